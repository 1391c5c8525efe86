// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 EnsembleFlow 命令行入口。

# 概述

cmd/ensembleflow 加载 YAML/JSON 工作流定义，按依赖顺序把请求分发到
模型推理服务，并以 JSON 输出终端节点结果。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 链路追踪。

# 子命令

  - plan：打印节点的拓扑执行顺序，不调用任何模型
  - run：执行工作流；--input 组成单次请求，--request 每个文件一次运行
  - history：从 history 数据库列出或查看已记录的运行
  - version：显示构建注入的版本信息

# 主要能力

  - 批量执行：多个请求通过 errgroup 并发运行，中断时取消其余运行
  - 请求头：--header 写入每个请求，并由调度器复制到所有合成请求
  - Metrics：metrics.addr 非空时暴露 /metrics，--metrics-file 写出文本快照
  - 结果缓存：cache.enabled 时模型输出经 Redis 缓存，相同请求不再重复推理
  - 执行历史：history.driver 非空时每次运行写入 SQLite/PostgreSQL/MySQL
  - 优雅关闭：SIGINT/SIGTERM 取消上下文，正在执行的节点以 INTERRUPTED 结束
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
