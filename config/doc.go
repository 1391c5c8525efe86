// Package config 提供 EnsembleFlow 的配置管理功能。
//
// 支持默认值、YAML 文件与环境变量三级覆盖，
// 覆盖调度器、推理服务、结果缓存、执行历史、指标、日志与遥测配置。
package config
