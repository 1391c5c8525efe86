// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的工作流指标采集能力，覆盖运行、
节点调度、推理调用与结果缓存。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个 Collector
持有独立的 prometheus.Registry（promauto.With），便于测试中重复创建，
并通过 Handler 暴露抓取端点。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等向量指标。

# 主要能力

  - 运行指标：运行总数与耗时，按 mode（execute/plan）与 status 分组。
  - 节点指标：调度总数、调用耗时、在途节点数，按 node 分组。
  - 推理指标：按 model 与错误码统计调用结果。
  - 缓存指标：按 model 统计结果缓存的 hit/miss/error 次数。
*/
package metrics
