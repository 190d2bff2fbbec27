package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/tools"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type registeredCheck struct {
	check    HealthCheck
	critical bool
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	version string
	checks  []registeredCheck
	mu      sync.RWMutex
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger, version: version}
}

// RegisterCheck 注册关键检查，失败时就绪探针返回 503
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, true)
}

// RegisterAdvisoryCheck 注册非关键检查，失败只把状态降为 degraded
func (h *HealthHandler) RegisterAdvisoryCheck(check HealthCheck) {
	h.register(check, false)
}

func (h *HealthHandler) register(check HealthCheck, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, critical: critical})
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 存活探针，只说明进程在运行
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// HandleReady 就绪探针，执行全部已注册检查
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Evaluate(ctx)
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate runs every registered check sequentially.
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for _, rc := range checks {
		start := time.Now()
		err := rc.check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Message = err.Error()
			if rc.critical {
				result.Status = "fail"
				status.Status = "unhealthy"
			} else {
				result.Status = "warn"
				if status.Status == "healthy" {
					status.Status = "degraded"
				}
			}
			h.logger.Warn("health check failed",
				zap.String("check", rc.check.Name()),
				zap.Bool("critical", rc.critical),
				zap.Error(err),
				zap.Duration("latency", latency))
		}
		status.Checks[rc.check.Name()] = result
	}
	return status
}

// HandleVersion 处理 /version 请求
// @Router /version [get]
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的检查，用于数据库、Redis、MongoDB 与 Qdrant
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// ToolEndpointsCheck 任一工具端点 DOWN 时失败
type ToolEndpointsCheck struct {
	registry ToolRegistry
}

// NewToolEndpointsCheck creates a check over the tool registry.
func NewToolEndpointsCheck(registry ToolRegistry) *ToolEndpointsCheck {
	return &ToolEndpointsCheck{registry: registry}
}

func (c *ToolEndpointsCheck) Name() string { return "tool_endpoints" }

func (c *ToolEndpointsCheck) Check(ctx context.Context) error {
	var down []string
	for _, s := range c.registry.List() {
		if s.Health == tools.HealthDown {
			down = append(down, s.Endpoint.ID)
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("endpoints down: %v", down)
	}
	return nil
}
