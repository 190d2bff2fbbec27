package metrics

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/workflow"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollectorWithRegistry(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.runsStarted)
	assert.NotNil(t, collector.rankTotal)
	assert.NotNil(t, collector.toolCallsTotal)
}

func TestNewCollectorWithRegistry_Isolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	ns := nextTestNamespace()
	c := NewCollectorWithRegistry(ns, reg, zap.NewNop())
	c.RunStarted("wf")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, ns+"_workflow_runs_started_total")
	assert.Contains(t, names, ns+"_workflow_runs_active")
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/v1/runs", 200, 100*time.Millisecond, 1024, 2048)
	c.RecordHTTPRequest("GET", "/v1/runs", 201, 50*time.Millisecond, 0, 0)
	c.RecordHTTPRequest("POST", "/v1/runs", 503, time.Millisecond, 10, 10)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/v1/runs", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/runs", "5xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestCollector_RunLifecycle(t *testing.T) {
	c := newTestCollector(t)

	c.RunStarted("rag")
	c.RunStarted("rag")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsActive))

	c.RunFinished("rag", workflow.RunSucceeded, 2*time.Second)
	c.RunFinished("rag", workflow.RunFailed, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsStarted.WithLabelValues("rag")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("rag", string(workflow.RunSucceeded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("rag", string(workflow.RunFailed))))
}

func TestCollector_NodeMetrics(t *testing.T) {
	c := newTestCollector(t)

	c.NodeFinished(workflow.KindToolCall, workflow.NodeSucceeded, 300*time.Millisecond)
	c.NodeFinished(workflow.KindToolCall, workflow.NodeSkipped, 0)
	c.NodeRetried(workflow.KindToolCall)
	c.NodeRetried(workflow.KindToolCall)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeTotal.WithLabelValues(string(workflow.KindToolCall), string(workflow.NodeSucceeded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeTotal.WithLabelValues(string(workflow.KindToolCall), string(workflow.NodeSkipped))))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.nodeRetries.WithLabelValues(string(workflow.KindToolCall))))
	// skipped 节点不计入耗时
	assert.Equal(t, 1, testutil.CollectAndCount(c.nodeDuration))
}

func TestCollector_RankObserved(t *testing.T) {
	c := newTestCollector(t)

	c.RankObserved(rag.ModeHybrid, 0.02, 3, nil)
	c.RankObserved(rag.ModeHybrid, 0.5, 0, errors.New("qdrant unavailable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.rankTotal.WithLabelValues("hybrid", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rankTotal.WithLabelValues("hybrid", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.rankResults))
}

func TestCollector_ToolMetrics(t *testing.T) {
	c := newTestCollector(t)

	c.ToolCallObserved("kb", "success", 40*time.Millisecond)
	c.ToolCallObserved("kb", "timeout", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("kb", "timeout")))

	c.ToolHealthChanged("kb", tools.HealthUp)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolHealth.WithLabelValues("kb")))
	c.ToolHealthChanged("kb", tools.HealthDown)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.toolHealth.WithLabelValues("kb")))
	c.ToolHealthChanged("kb", tools.HealthUnknown)
	assert.Equal(t, -1.0, testutil.ToFloat64(c.toolHealth.WithLabelValues("kb")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 101: "101"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}
