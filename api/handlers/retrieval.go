package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/api"
	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/types"
)

// Ranker 由 *rag.Ranker 实现
type Ranker interface {
	Rank(ctx context.Context, q rag.Query) ([]rag.Fragment, error)
	Defaults() rag.Defaults
}

// RetrievalHandler 检索接口
type RetrievalHandler struct {
	ranker Ranker
	logger *zap.Logger
}

// NewRetrievalHandler creates a retrieval handler.
func NewRetrievalHandler(ranker Ranker, logger *zap.Logger) *RetrievalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalHandler{ranker: ranker, logger: logger}
}

// HandleRank 对查询做混合排序
// @Summary Rank fragments
// @Tags retrieval
// @Accept json
// @Produce json
// @Param request body api.RankRequest true "Query"
// @Success 200 {object} Response{data=api.RankResponse}
// @Failure 400 {object} Response "Invalid query"
// @Failure 502 {object} Response "Backend failure"
// @Router /api/v1/retrieval/rank [post]
func (h *RetrievalHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	var q api.RankRequest
	if err := DecodeJSONBody(w, r, &q, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(q.Text) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidParams, "text is required", h.logger)
		return
	}

	start := time.Now()
	results, err := h.ranker.Rank(r.Context(), q)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if results == nil {
		results = []rag.Fragment{}
	}
	mode := q.Mode
	if mode == "" {
		mode = h.ranker.Defaults().Mode
	}
	WriteSuccess(w, r, api.RankResponse{
		Query:   q.Text,
		Mode:    mode,
		Results: results,
		TookMs:  time.Since(start).Milliseconds(),
	})
}
