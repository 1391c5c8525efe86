package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 工作流指标收集器
type Collector struct {
	registry *prometheus.Registry

	// 运行指标
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// 节点指标
	nodeDispatchTotal *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	nodesInFlight     prometheus.Gauge

	// 推理调用指标
	invocationsTotal *prometheus.CounterVec

	// 结果缓存指标
	cacheLookupsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，每个收集器持有独立的 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"mode", "status"}, // mode: execute, plan
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	c.nodeDispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_node_dispatch_total",
			Help:      "Total number of node dispatches",
		},
		[]string{"node", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Node invocation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"node"},
	)

	c.nodesInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_nodes_in_flight",
			Help:      "Number of node invocations currently running",
		},
	)

	c.invocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_invocations_total",
			Help:      "Total number of model invocations by outcome code",
		},
		[]string{"model", "code"},
	)

	c.cacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_cache_lookups_total",
			Help:      "Total number of inference result cache lookups",
		},
		[]string{"model", "result"}, // result: hit, miss, error
	)

	return c
}

// =============================================================================
// 📝 记录方法
// =============================================================================

// RecordRun 记录一次工作流运行
func (c *Collector) RecordRun(mode, status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(mode, status).Inc()
	c.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// NodeStarted 标记节点开始执行
func (c *Collector) NodeStarted() {
	c.nodesInFlight.Inc()
}

// RecordNode 记录节点执行结果
func (c *Collector) RecordNode(node, status string, duration time.Duration) {
	c.nodesInFlight.Dec()
	c.nodeDispatchTotal.WithLabelValues(node, status).Inc()
	c.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordInvocation 记录推理调用结果；code 为空表示成功
func (c *Collector) RecordInvocation(model, code string) {
	if code == "" {
		code = "OK"
	}
	c.invocationsTotal.WithLabelValues(model, code).Inc()
}

// RecordCacheLookup 记录一次结果缓存查询
func (c *Collector) RecordCacheLookup(model, result string) {
	c.cacheLookupsTotal.WithLabelValues(model, result).Inc()
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 Prometheus 抓取端点
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
