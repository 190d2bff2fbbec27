// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/workflow"
)

var (
	_ workflow.Observer = (*Collector)(nil)
	_ rag.RankObserver  = (*Collector)(nil)
	_ tools.Observer    = (*Collector)(nil)
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现执行器、检索与工具注册表的观察者接口。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 运行与节点
	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsActive    prometheus.Gauge
	nodeTotal     *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	nodeRetries   *prometheus.CounterVec

	// 检索
	rankTotal    *prometheus.CounterVec
	rankDuration *prometheus.HistogramVec
	rankResults  *prometheus.HistogramVec

	// 工具
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolHealth       *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers on reg; a nil reg leaves metrics unregistered.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	c.httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	c.httpRequestSize = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_size_bytes",
		Help:      "HTTP request size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})
	c.httpResponseSize = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})

	// 运行指标
	c.runsStarted = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_runs_started_total",
		Help:      "Workflow runs started",
	}, []string{"definition"})
	c.runsFinished = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_runs_finished_total",
		Help:      "Workflow runs reaching a terminal state",
	}, []string{"definition", "status"})
	c.runDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_run_duration_seconds",
		Help:      "Workflow run wall time",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"definition", "status"})
	c.runsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workflow_runs_active",
		Help:      "Runs currently executing",
	})
	c.nodeTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_node_executions_total",
		Help:      "Node executions by kind and terminal status",
	}, []string{"kind", "status"})
	c.nodeDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_node_duration_seconds",
		Help:      "Node execution time including retries",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})
	c.nodeRetries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_node_retries_total",
		Help:      "Node retry attempts",
	}, []string{"kind"})

	// 检索指标
	c.rankTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_rank_total",
		Help:      "Rank calls by mode and outcome",
	}, []string{"mode", "status"})
	c.rankDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_rank_duration_seconds",
		Help:      "Rank latency",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"mode"})
	c.rankResults = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_rank_results",
		Help:      "Fragments returned per rank call",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	}, []string{"mode"})

	// 工具指标
	c.toolCallsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls by endpoint and status",
	}, []string{"endpoint", "status"})
	c.toolCallDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool call latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})
	c.toolHealth = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tool_endpoint_up",
		Help:      "1 when the endpoint is UP, 0 when DOWN, -1 when UNKNOWN",
	}, []string{"endpoint"})

	return c
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize > 0 {
		c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// =============================================================================
// 🔀 workflow.Observer
// =============================================================================

func (c *Collector) RunStarted(definitionID string) {
	c.runsStarted.WithLabelValues(definitionID).Inc()
	c.runsActive.Inc()
}

func (c *Collector) RunFinished(definitionID string, status workflow.RunStatus, duration time.Duration) {
	c.runsFinished.WithLabelValues(definitionID, string(status)).Inc()
	c.runDuration.WithLabelValues(definitionID, string(status)).Observe(duration.Seconds())
	c.runsActive.Dec()
}

func (c *Collector) NodeFinished(kind workflow.NodeKind, status workflow.NodeStatus, duration time.Duration) {
	c.nodeTotal.WithLabelValues(string(kind), string(status)).Inc()
	if status != workflow.NodeSkipped {
		c.nodeDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	}
}

func (c *Collector) NodeRetried(kind workflow.NodeKind) {
	c.nodeRetries.WithLabelValues(string(kind)).Inc()
}

// =============================================================================
// 🔍 rag.RankObserver
// =============================================================================

func (c *Collector) RankObserved(mode rag.Mode, elapsedSeconds float64, results int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.rankTotal.WithLabelValues(string(mode), status).Inc()
	c.rankDuration.WithLabelValues(string(mode)).Observe(elapsedSeconds)
	if err == nil {
		c.rankResults.WithLabelValues(string(mode)).Observe(float64(results))
	}
}

// =============================================================================
// 🔧 tools.Observer
// =============================================================================

func (c *Collector) ToolCallObserved(endpointID, status string, elapsed time.Duration) {
	c.toolCallsTotal.WithLabelValues(endpointID, status).Inc()
	c.toolCallDuration.WithLabelValues(endpointID).Observe(elapsed.Seconds())
}

func (c *Collector) ToolHealthChanged(endpointID string, health tools.HealthStatus) {
	v := -1.0
	switch health {
	case tools.HealthUp:
		v = 1
	case tools.HealthDown:
		v = 0
	}
	c.toolHealth.WithLabelValues(endpointID).Set(v)
	c.logger.Debug("tool health gauge updated", zap.String("endpoint", endpointID), zap.String("health", string(health)))
}

// statusCode 折叠为状态类别，控制 label 基数
func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
