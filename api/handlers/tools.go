package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/api"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
)

// ToolRegistry 由 *tools.Registry 实现
type ToolRegistry interface {
	Register(ep tools.Endpoint) error
	List() []tools.EndpointStatus
	History(f tools.HistoryFilter) []tools.CallRecord
}

// ToolHistoryStore 持久化的调用历史，配置数据库时由 GormStore 提供
type ToolHistoryStore interface {
	ToolCallHistory(ctx context.Context, f tools.HistoryFilter) ([]tools.CallRecord, error)
}

// defaultHistoryLimit 未指定 limit 时的返回条数
const defaultHistoryLimit = 100

// ToolHandler 工具端点接口
type ToolHandler struct {
	registry ToolRegistry
	store    ToolHistoryStore
	logger   *zap.Logger
}

// NewToolHandler creates a tool handler. store may be nil, in which case
// history is served from the registry's in-memory ring.
func NewToolHandler(registry ToolRegistry, store ToolHistoryStore, logger *zap.Logger) *ToolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolHandler{registry: registry, store: store, logger: logger}
}

// HandleListTools 列出端点与健康状态
// @Router /api/v1/tools [get]
func (h *ToolHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.List()
	out := make([]api.ToolEndpointInfo, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, api.ToolInfo(s))
	}
	WriteSuccess(w, r, out)
}

// HandleRegisterTool 注册端点，重复 ID 返回 409
// @Router /api/v1/tools [post]
func (h *ToolHandler) HandleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterToolRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	ep, err := req.Endpoint()
	if err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidParams, err.Error(), h.logger)
		return
	}
	if err := h.registry.Register(ep); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("tool endpoint registered via API", zap.String("endpoint", ep.ID), zap.String("transport", string(ep.Transport)))

	for _, s := range h.registry.List() {
		if s.Endpoint.ID == ep.ID {
			WriteStatus(w, r, http.StatusCreated, api.ToolInfo(s))
			return
		}
	}
	WriteStatus(w, r, http.StatusCreated, api.ToolInfo(tools.EndpointStatus{Endpoint: ep, Health: tools.HealthUnknown}))
}

// HandleHistory 返回调用历史，新的在前。支持 run_id/endpoint/tool/limit 过滤。
// @Router /api/v1/tools/history [get]
func (h *ToolHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := tools.HistoryFilter{
		RunID:      q.Get("run_id"),
		EndpointID: q.Get("endpoint"),
		Tool:       q.Get("tool"),
		Limit:      defaultHistoryLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		f.Limit = n
	}

	var recs []tools.CallRecord
	if h.store != nil {
		var err error
		recs, err = h.store.ToolCallHistory(r.Context(), f)
		if err != nil {
			WriteError(w, r, types.WrapError(err, types.ErrInternalError, "load tool call history failed"), h.logger)
			return
		}
	} else {
		recs = h.registry.History(f)
	}
	if recs == nil {
		recs = []tools.CallRecord{}
	}
	WriteSuccess(w, r, recs)
}
