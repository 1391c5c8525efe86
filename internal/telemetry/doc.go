// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为调度器（workflow.execute / workflow.node span）和推理适配器
// （inference.invoke span）提供全局 TracerProvider 与 MeterProvider。
// 当遥测功能禁用时，仅安装 trace 上下文传播器，不连接任何外部服务。
package telemetry
