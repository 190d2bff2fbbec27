package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// routeHandler 评估 CONDITION 出边 guard 的最小实现
func routeHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request, upstream map[string]any) (*Output, error) {
		env := Environment(req.Vars, upstream)
		var routes []string
		var fallback string
		for _, b := range req.Branches {
			if b.Default {
				fallback = b.EdgeID
				continue
			}
			ok, err := b.Guard.Eval(env)
			if err != nil {
				return nil, err
			}
			if ok {
				routes = append(routes, b.EdgeID)
			}
		}
		if len(routes) == 0 && fallback != "" {
			routes = []string{fallback}
		}
		return &Output{Value: map[string]any{"routes": routes}, Routes: routes}, nil
	})
}

func valueHandler(v any) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request, upstream map[string]any) (*Output, error) {
		return &Output{Value: v}, nil
	})
}

func idHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request, upstream map[string]any) (*Output, error) {
		return &Output{Value: req.NodeID}, nil
	})
}

func defaultHandlers() HandlerTable {
	return HandlerTable{
		KindStart:     valueHandler("start"),
		KindEnd:       idHandler(),
		KindFunction:  idHandler(),
		KindCondition: routeHandler(),
		KindAIChat:    idHandler(),
		KindRetrieval: idHandler(),
		KindToolCall:  idHandler(),
	}
}

func newTestEngine(t *testing.T, handlers HandlerTable) *Engine {
	t.Helper()
	exec := NewExecutor(handlers, zap.NewNop())
	return NewEngine(NewMemoryStore(), exec, zap.NewNop())
}

func runToEnd(t *testing.T, eng *Engine, def *Definition, vars map[string]any) *Run {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, eng.Publish(ctx, def))
	id, err := eng.StartRun(ctx, def.ID, vars)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	run, err := eng.Wait(waitCtx, id)
	require.NoError(t, err)
	return run
}

func nodeStatuses(run *Run) map[string]NodeStatus {
	out := make(map[string]NodeStatus, len(run.Nodes))
	for id, ne := range run.Nodes {
		out[id] = ne.Status
	}
	return out
}
