// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 ensembleflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 请求断言: AssertParameterNames / ParameterValues
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: MockInvoker（workflow.Invoker 模拟实现），
    支持固定载荷、错误注入、延迟、调用记录与并发峰值统计

# 使用示例

	ctx := testutil.TestContext(t)
	invoker := mocks.NewMockInvoker().WithPayload("resnet", []byte("cat"))
	outputs, err := scheduler.Execute(ctx, req)
*/
package testutil
