// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 EnsembleFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、inference
与命令行提供统一的请求、输出与错误契约。

# 核心类型

  - Parameter：具名的不透明负载，Value 为 nil 表示上游节点失败
  - Request：请求头与有序参数列表，既用于调用方请求也用于合成请求
  - NodeOutput：终端节点名称、负载与错误
  - Error / ErrorCode：结构化错误，携带 HTTP 状态码、节点与模型

# 错误码

  - TARGET_NOT_FOUND / TARGET_VERSION_NOT_FOUND：模型或版本不存在
  - EXECUTION_FAULT：模型执行失败或传输错误
  - INTERRUPTED：运行被取消
  - GRAPH_INVALID / INVALID_REQUEST / INTERNAL_ERROR：构图、输入与内部错误

# 错误工具

AsError、GetErrorCode、IsErrorCode 沿 errors.Unwrap 链查找 *Error；
IsInvocationError 判断错误是否来自模型调用。
*/
package types
