// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package inference 提供 workflow.Invoker 的实现。

  - Registry：进程内模型注册表（model → version → Handler，首个版本为默认版本）
  - HTTPInvoker：调用模型服务 predictions 接口 POST {base}/predictions/{model}[/{version}]
  - CachingInvoker：把任意 Invoker 的成功结果缓存到 PayloadCache（Redis）

# 错误映射

  - 模型未注册 / HTTP 404                → TARGET_NOT_FOUND
  - 版本未注册 / 404 且请求了版本        → TARGET_VERSION_NOT_FOUND
  - Handler 失败 / 其他非 2xx 响应       → EXECUTION_FAULT
  - ctx 取消或超时、限流等待被中断       → INTERRUPTED

HTTPInvoker 使用 golang.org/x/time/rate 做客户端限流，通过 OpenTelemetry
传播器把 trace 上下文注入请求头，并附带 X-Workflow-Run-ID 与 X-Workflow-Node
关联头。CachingInvoker 的键覆盖模型、版本、请求头与参数，不含请求 ID；
缓存故障只记录日志，不影响调用结果。
*/
package inference
