// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的二进制值缓存，用于保存模型推理结果。

# 概述

本包封装 go-redis 客户端，Manager 负责连接生命周期管理，包括
初始化探活与优雅关闭。支持可选 TLS 加密连接（tlsutil 加固配置）。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Ping/Close 操作，
    以及 Key 方法为键加上配置的前缀。

# 主要能力

  - 二进制读写：推理结果按原始字节存取，不做序列化。
  - 过期控制：Set 的 ttl 为 0 时使用 config.CacheConfig.TTL。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
