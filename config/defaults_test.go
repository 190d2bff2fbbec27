package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, ExecutorConfig{}, cfg.Executor)
	assert.NotEqual(t, RetrievalConfig{}, cfg.Retrieval)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, QdrantConfig{}, cfg.Qdrant)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.Empty(t, cfg.WorkflowsDir)
}

func TestDefaultExecutorConfig(t *testing.T) {
	cfg := DefaultExecutorConfig()
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.True(t, cfg.SkippedAsSatisfied)
	assert.Zero(t, cfg.RunTimeout)
}

func TestDefaultRetrievalConfig(t *testing.T) {
	cfg := DefaultRetrievalConfig()
	assert.Equal(t, "hybrid", cfg.Mode)
	assert.Equal(t, 5, cfg.Limit)
	assert.Equal(t, 0.7, cfg.SimilarityThreshold)
	assert.Equal(t, 0.7, cfg.Alpha)
}

func TestDefaultToolsConfig(t *testing.T) {
	cfg := DefaultToolsConfig()
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 180*time.Second, cfg.DefaultTimeout)
	assert.Empty(t, cfg.Endpoints)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.False(t, cfg.Enabled())
	assert.Equal(t, 3, cfg.TxMaxAttempts)
	assert.LessOrEqual(t, cfg.MaxIdleConns, cfg.MaxOpenConns)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}
