package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/api"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/dsl"
)

// WorkflowService 工作流引擎在 HTTP 层需要的能力，*workflow.Engine 满足该接口
type WorkflowService interface {
	Publish(ctx context.Context, def *workflow.Definition) error
	GetDefinition(ctx context.Context, id string) (*workflow.Definition, error)
	ListDefinitions(ctx context.Context) ([]*workflow.Definition, error)
	StartRun(ctx context.Context, definitionID string, vars map[string]any) (string, error)
	GetRunStatus(ctx context.Context, runID string) (*workflow.Run, error)
	CancelRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, filter workflow.RunFilter) ([]*workflow.Run, error)
	RunLog(ctx context.Context, runID string) ([]workflow.LogEntry, error)
}

// =============================================================================
// 🔀 Workflow Handler
// =============================================================================

// WorkflowHandler 定义与运行接口
type WorkflowHandler struct {
	engine WorkflowService
	parser *dsl.Parser
	logger *zap.Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(engine WorkflowService, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{engine: engine, parser: dsl.NewParser(), logger: logger}
}

// HandlePublish 发布定义。JSON 请求体为定义本身；YAML 请求体按 DSL 解析。
// @Summary Publish definition
// @Tags workflow
// @Accept json
// @Accept application/yaml
// @Produce json
// @Success 201 {object} Response{data=api.DefinitionSummary}
// @Failure 400 {object} Response "Validation failed"
// @Failure 409 {object} Response "Definition exists"
// @Router /api/v1/workflows [post]
func (h *WorkflowHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var def *workflow.Definition
	if isYAML(r) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "read body failed", h.logger)
			return
		}
		doc, err := h.parser.Parse(data)
		if err != nil {
			WriteError(w, r, types.NewValidationError(err.Error()), h.logger)
			return
		}
		def = doc.Definition
	} else {
		def = &workflow.Definition{}
		if err := DecodeJSONBody(w, r, def, h.logger); err != nil {
			return
		}
	}

	if err := h.engine.Publish(r.Context(), def); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	stored, err := h.engine.GetDefinition(r.Context(), def.ID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, api.SummarizeDefinition(stored))
}

// HandleListWorkflows 列出已发布定义
// @Router /api/v1/workflows [get]
func (h *WorkflowHandler) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := h.engine.ListDefinitions(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	out := make([]api.DefinitionSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, api.SummarizeDefinition(d))
	}
	WriteSuccess(w, r, out)
}

// HandleGetWorkflow 读取单个定义
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := h.engine.GetDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, def)
}

// HandleStartRun 启动运行，立即返回 202 与 run_id
// @Router /api/v1/workflows/{id}/runs [post]
func (h *WorkflowHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	defID := r.PathValue("id")
	var req api.StartRunRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	// 运行不随请求结束而取消
	runID, err := h.engine.StartRun(context.WithoutCancel(r.Context()), defID, req.Vars)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+runID)
	WriteStatus(w, r, http.StatusAccepted, api.StartRunResponse{RunID: runID, DefinitionID: defID})
}

// HandleListRuns 列出运行，支持 definition_id/status/limit 查询参数
// @Router /api/v1/runs [get]
func (h *WorkflowHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := workflow.RunFilter{
		DefinitionID: q.Get("definition_id"),
		Status:       workflow.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		filter.Limit = n
	}
	runs, err := h.engine.ListRuns(r.Context(), filter)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	out := make([]api.RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, api.SummarizeRun(run))
	}
	WriteSuccess(w, r, out)
}

// HandleGetRun 返回运行快照，包含每个节点的状态
// @Router /api/v1/runs/{id} [get]
func (h *WorkflowHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.GetRunStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, run)
}

// HandleCancelRun 请求取消；已结束的运行返回当前状态
// @Router /api/v1/runs/{id}/cancel [post]
func (h *WorkflowHandler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.CancelRun(r.Context(), id); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	run, err := h.engine.GetRunStatus(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusAccepted, api.SummarizeRun(run))
}

// HandleRunLog 返回按 seq 排序的执行日志
// @Router /api/v1/runs/{id}/log [get]
func (h *WorkflowHandler) HandleRunLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.RunLog(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if entries == nil {
		entries = []workflow.LogEntry{}
	}
	WriteSuccess(w, r, entries)
}

func isYAML(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/yaml" || mt == "application/x-yaml" || strings.HasSuffix(mt, "+yaml")
}
