package api

import (
	"fmt"
	"time"

	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/workflow"
)

// =============================================================================
// 工作流类型
// =============================================================================

// DefinitionSummary 列表接口返回的定义摘要
// @Description 工作流定义摘要
type DefinitionSummary struct {
	ID          string    `json:"id" example:"rag-answer"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty" example:"1"`
	Nodes       int       `json:"nodes" example:"5"`
	Edges       int       `json:"edges" example:"4"`
	CreatedAt   time.Time `json:"created_at"`
}

// SummarizeDefinition builds the list view of a definition.
func SummarizeDefinition(def *workflow.Definition) DefinitionSummary {
	return DefinitionSummary{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
		Nodes:       len(def.Nodes),
		Edges:       len(def.Edges),
		CreatedAt:   def.CreatedAt,
	}
}

// StartRunRequest 启动运行请求
// @Description 启动运行请求，vars 为运行输入变量
type StartRunRequest struct {
	Vars map[string]any `json:"vars,omitempty"`
}

// StartRunResponse 启动运行响应
type StartRunResponse struct {
	RunID        string `json:"run_id" example:"2b1f0c1e-6f1a-4c39-9a0e-0c7d7a3c6c11"`
	DefinitionID string `json:"definition_id" example:"rag-answer"`
}

// RunSummary 运行列表项，不含节点明细
type RunSummary struct {
	ID           string             `json:"id"`
	DefinitionID string             `json:"definition_id"`
	Status       workflow.RunStatus `json:"status"`
	FailedNodeID string             `json:"failed_node_id,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
}

// SummarizeRun builds the list view of a run.
func SummarizeRun(run *workflow.Run) RunSummary {
	return RunSummary{
		ID:           run.ID,
		DefinitionID: run.DefinitionID,
		Status:       run.Status,
		FailedNodeID: run.FailedNodeID,
		StartedAt:    run.StartedAt,
		EndedAt:      run.EndedAt,
	}
}

// =============================================================================
// 检索类型
// =============================================================================

// RankRequest 检索请求，字段与 rag.Query 一致
type RankRequest = rag.Query

// RankResponse 检索响应
type RankResponse struct {
	Query   string         `json:"query"`
	Mode    rag.Mode       `json:"mode"`
	Results []rag.Fragment `json:"results"`
	TookMs  int64          `json:"took_ms"`
}

// =============================================================================
// 工具类型
// =============================================================================

// RegisterToolRequest 注册工具端点。timeout 使用 Go duration 字符串。
// @Description 工具端点注册请求
type RegisterToolRequest struct {
	ID           string              `json:"id" example:"kb"`
	Transport    tools.TransportKind `json:"transport" example:"http"`
	URL          string              `json:"url" example:"http://kb.internal:9000"`
	Auth         tools.Auth          `json:"auth,omitempty"`
	Timeout      string              `json:"timeout,omitempty" example:"30s"`
	RateLimitRPS float64             `json:"rate_limit_rps,omitempty" example:"5"`
}

// Endpoint converts the request into a registry endpoint.
func (r RegisterToolRequest) Endpoint() (tools.Endpoint, error) {
	ep := tools.Endpoint{
		ID:           r.ID,
		Transport:    r.Transport,
		URL:          r.URL,
		Auth:         r.Auth,
		RateLimitRPS: r.RateLimitRPS,
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return ep, fmt.Errorf("invalid timeout %q: %w", r.Timeout, err)
		}
		ep.Timeout = d
	}
	return ep, nil
}

// ToolEndpointInfo 工具端点及健康状态。认证信息不回显。
type ToolEndpointInfo struct {
	ID                 string              `json:"id"`
	Transport          tools.TransportKind `json:"transport"`
	URL                string              `json:"url"`
	AuthType           string              `json:"auth_type,omitempty"`
	Timeout            string              `json:"timeout,omitempty"`
	RateLimitRPS       float64             `json:"rate_limit_rps,omitempty"`
	Health             tools.HealthStatus  `json:"health"`
	LastChecked        *time.Time          `json:"last_checked,omitempty"`
	LastError          string              `json:"last_error,omitempty"`
	TotalRequests      int64               `json:"total_requests"`
	SuccessfulRequests int64               `json:"successful_requests"`
	FailedRequests     int64               `json:"failed_requests"`
}

// ToolInfo builds the API view of an endpoint status.
func ToolInfo(s tools.EndpointStatus) ToolEndpointInfo {
	info := ToolEndpointInfo{
		ID:                 s.Endpoint.ID,
		Transport:          s.Endpoint.Transport,
		URL:                s.Endpoint.URL,
		AuthType:           string(s.Endpoint.Auth.Type),
		RateLimitRPS:       s.Endpoint.RateLimitRPS,
		Health:             s.Health,
		LastError:          s.LastError,
		TotalRequests:      s.TotalRequests,
		SuccessfulRequests: s.SuccessfulRequests,
		FailedRequests:     s.FailedRequests,
	}
	if s.Endpoint.Timeout > 0 {
		info.Timeout = s.Endpoint.Timeout.String()
	}
	if !s.LastChecked.IsZero() {
		t := s.LastChecked
		info.LastChecked = &t
	}
	return info
}
