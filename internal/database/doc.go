// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的连接池管理与工作流执行历史持久化。

# 概述

Open 按 history.driver 选择 GORM 方言（sqlite / postgres / mysql），
并通过 PoolManager 统一管理连接池参数与生命周期。HistoryRepository
实现 workflow.HistorySink，调度器每次运行结束后把 ExecutionHistory
连同逐节点记录写入 workflow_executions 与 workflow_node_executions 两张表。

# 核心类型

  - PoolManager：持有 GORM DB 实例，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大空闲连接数、最大打开连接数与连接最大生命周期。
  - HistoryRepository：Migrate / Record / Get / List。
  - HistoryQuery：按工作流名称、状态、时间范围与数量过滤。

# 主要能力

  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 在死锁、
    序列化失败或 SQLite 忙时按指数退避重试。
  - 内存 SQLite：连接池固定为单连接，保证所有查询看到同一数据库。
*/
package database
