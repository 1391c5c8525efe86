// =============================================================================
// 📦 EnsembleFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Scheduler: DefaultSchedulerConfig(),
		Inference: DefaultInferenceConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Cache:     DefaultCacheConfig(),
		History:   DefaultHistoryConfig(),
	}
}

// DefaultSchedulerConfig 返回默认调度器配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:          4,
		FailurePolicy:    "continue",
		DrainCompletions: false,
	}
}

// DefaultInferenceConfig 返回默认推理服务配置
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		BaseURL:        "http://localhost:8080",
		Timeout:        0,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "ensembleflow",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ensembleflow",
		SampleRate:   0.1,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		TTL:       10 * time.Minute,
		KeyPrefix: "ensembleflow:result:",
	}
}

// DefaultHistoryConfig 返回默认执行历史配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}
