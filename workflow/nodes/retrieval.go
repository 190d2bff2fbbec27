package nodes

import (
	"context"

	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

// Ranker is the retrieval collaborator of the retrieval node.
type Ranker interface {
	Rank(ctx context.Context, q rag.Query) ([]rag.Fragment, error)
}

// RetrievalHandler 调用混合检索排序器。
type RetrievalHandler struct {
	Ranker Ranker
}

func (h *RetrievalHandler) Execute(ctx context.Context, req *workflow.Request, _ map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	if h.Ranker == nil {
		return nil, types.NewError(types.ErrRetrievalFailed, "retrieval is not configured").WithNodeID(req.NodeID)
	}
	q, err := queryFromParams(req)
	if err != nil {
		return nil, err
	}

	frags, err := h.Ranker.Rank(ctx, q)
	if cerr := checkCtx(ctx, req.NodeID); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}

	results, err := toPlain(frags)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode fragments").WithNodeID(req.NodeID).WithCause(err)
	}
	if results == nil {
		results = []any{}
	}
	return &workflow.Output{Value: map[string]any{
		"query":   q.Text,
		"results": results,
		"count":   len(frags),
	}}, nil
}

func queryFromParams(req *workflow.Request) (rag.Query, error) {
	text, err := requiredString(req.NodeID, req.Params, "query")
	if err != nil {
		return rag.Query{}, err
	}
	q := rag.Query{
		Text:       text,
		DatasetIDs: stringsParam(req.Params, "dataset_ids"),
	}
	if mode, ok := stringParam(req.Params, "mode"); ok && mode != "" {
		q.Mode = rag.Mode(mode)
	}
	if limit, ok, err := intParam(req.Params, "limit"); err != nil {
		return q, paramError(req.NodeID, "%v", err)
	} else if ok {
		if limit <= 0 {
			return q, paramError(req.NodeID, "param %q must be positive", "limit")
		}
		q.Limit = limit
	}
	if th, ok, err := floatParam(req.Params, "similarity_threshold"); err != nil {
		return q, paramError(req.NodeID, "%v", err)
	} else if ok {
		q.Threshold = &th
	}
	if alpha, ok, err := floatParam(req.Params, "alpha"); err != nil {
		return q, paramError(req.NodeID, "%v", err)
	} else if ok {
		q.Alpha = &alpha
	}
	return q, nil
}
