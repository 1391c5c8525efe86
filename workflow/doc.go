// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供推理工作流的 DAG 调度引擎。

# 概述

每个节点调用一个外部模型服务。调度器按 Kahn 拓扑顺序遍历 DAG，
当节点的全部前驱完成后将其分派到每次运行独立的 worker 池，
并把上游输出合并为下游节点的输入请求。

# 核心类型

  - Graph：只读依赖图（根节点、子节点、入度）
  - GraphBuilder：Fluent API 构建 Graph（重复节点、未知端点、环检测）
  - Scheduler：Execute 执行模式 / Plan 规划模式
  - Invoker：推理调用接口，失败返回 *types.Error
  - Definition：JSON / YAML 工作流定义文件（models + dag）
  - ExecutionHistory / ExecutionHistoryStore：执行历史记录
  - HistorySink：运行结束后接收 ExecutionHistory，SQL 实现位于 internal/database

# 输入合并规则

  - 原始入度为 1 的节点：上游输出作为名为 "body" 的参数
  - 原始入度大于 1 的节点：参数以上游节点名命名
  - 顶层请求头原样复制到每个合成请求

# 失败策略

  - FailurePolicyContinue（默认）：记录日志，下游收到空载荷（nil）
  - FailurePolicyFailFast：首个失败节点终止本次运行
*/
package workflow
