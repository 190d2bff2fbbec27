package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/types"
)

// Observer 接收执行指标，避免 workflow 直接依赖指标实现。
type Observer interface {
	RunStarted(definitionID string)
	RunFinished(definitionID string, status RunStatus, duration time.Duration)
	NodeFinished(kind NodeKind, status NodeStatus, duration time.Duration)
	NodeRetried(kind NodeKind)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string)                                {}
func (nopObserver) RunFinished(string, RunStatus, time.Duration)     {}
func (nopObserver) NodeFinished(NodeKind, NodeStatus, time.Duration) {}
func (nopObserver) NodeRetried(NodeKind)                             {}

// Engine 对外提供发布定义、启动/查询/取消运行与读取日志的能力。
type Engine struct {
	store    Store
	executor *Executor
	defaults RunPolicy
	sinks    []LogSink
	tracer   trace.Tracer
	logger   *zap.Logger

	mu     sync.RWMutex
	graphs map[string]*Graph
	live   map[string]*Execution
	wg     sync.WaitGroup
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithDefaultPolicy sets the policy merged under each definition's own policy.
func WithDefaultPolicy(p RunPolicy) EngineOption {
	return func(e *Engine) { e.defaults = p.Merge(DefaultRunPolicy()) }
}

// WithLogSinks adds sinks receiving every log entry of every run.
func WithLogSinks(sinks ...LogSink) EngineOption {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// NewEngine creates an engine over store and executor.
func NewEngine(store Store, executor *Executor, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	e := &Engine{
		store:    store,
		executor: executor,
		defaults: DefaultRunPolicy(),
		tracer:   otel.Tracer("knowflow/workflow"),
		logger:   logger.With(zap.String("component", "workflow_engine")),
		graphs:   make(map[string]*Graph),
		live:     make(map[string]*Execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Publish validates and stores a definition. Published definitions are immutable.
func (e *Engine) Publish(ctx context.Context, def *Definition) error {
	if def == nil || def.ID == "" {
		return types.NewValidationError("definition id is required")
	}
	cp, err := def.Clone()
	if err != nil {
		return err
	}
	g, err := Compile(cp)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve.AsTypesError()
		}
		return err
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if err := e.store.SaveDefinition(ctx, cp); err != nil {
		return err
	}

	e.mu.Lock()
	e.graphs[cp.ID] = g
	e.mu.Unlock()

	e.logger.Info("definition published",
		zap.String("definition_id", cp.ID),
		zap.Int("nodes", len(cp.Nodes)),
		zap.Int("edges", len(cp.Edges)))
	return nil
}

// GetDefinition returns a published definition.
func (e *Engine) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	return e.store.LoadDefinition(ctx, id)
}

// ListDefinitions returns every published definition.
func (e *Engine) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	return e.store.ListDefinitions(ctx)
}

func (e *Engine) graph(ctx context.Context, id string) (*Graph, error) {
	e.mu.RLock()
	g, ok := e.graphs[id]
	e.mu.RUnlock()
	if ok {
		return g, nil
	}

	def, err := e.store.LoadDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err = Compile(def)
	if err != nil {
		// 存储中的定义可能绕过了 Publish 的校验
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, ve.AsTypesError()
		}
		return nil, err
	}
	e.mu.Lock()
	e.graphs[id] = g
	e.mu.Unlock()
	return g, nil
}

// StartRun starts an asynchronous run of a published definition and returns its id.
func (e *Engine) StartRun(ctx context.Context, definitionID string, vars map[string]any) (string, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.StartRun", trace.WithAttributes(attribute.String("definition.id", definitionID)))
	defer span.End()

	g, err := e.graph(ctx, definitionID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	vars, err = g.def.ResolveInputs(vars)
	if err != nil {
		span.RecordError(err)
		return "", types.NewValidationError(err.Error()).WithCause(err)
	}

	runID := uuid.NewString()
	span.SetAttributes(attribute.String("run.id", runID))

	sinks := make([]LogSink, 0, len(e.sinks)+1)
	sinks = append(sinks, LogSinkFunc(func(ctx context.Context, entry LogEntry) error {
		return e.store.AppendLog(ctx, entry)
	}))
	sinks = append(sinks, e.sinks...)

	x := e.executor.Start(g, RunOptions{
		RunID:  runID,
		Vars:   vars,
		Policy: g.def.Policy.Merge(e.defaults),
		Sinks:  sinks,
		OnSettle: func(run *Run) {
			if err := e.store.SaveRun(context.Background(), run); err != nil {
				e.logger.Warn("persist run failed", zap.String("run_id", run.ID), zap.Error(err))
			}
		},
	})

	e.mu.Lock()
	e.live[runID] = x
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-x.Done()
		e.mu.Lock()
		delete(e.live, runID)
		e.mu.Unlock()
	}()

	e.logger.Info("run started", zap.String("run_id", runID), zap.String("definition_id", definitionID))
	return runID, nil
}

func (e *Engine) execution(runID string) (*Execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.live[runID]
	return x, ok
}

// GetRunStatus returns a deep-copied snapshot of a run.
func (e *Engine) GetRunStatus(ctx context.Context, runID string) (*Run, error) {
	if x, ok := e.execution(runID); ok {
		return x.Snapshot(), nil
	}
	return e.store.LoadRun(ctx, runID)
}

// CancelRun requests cancellation. Cancelling a finished run is a no-op.
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	if x, ok := e.execution(runID); ok {
		x.Cancel()
		e.logger.Info("run cancel requested", zap.String("run_id", runID))
		return nil
	}
	if _, err := e.store.LoadRun(ctx, runID); err != nil {
		return err
	}
	return nil
}

// Wait blocks until the run is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (*Run, error) {
	if x, ok := e.execution(runID); ok {
		return x.Wait(ctx)
	}
	return e.store.LoadRun(ctx, runID)
}

// ListRuns lists runs from the store.
func (e *Engine) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	return e.store.ListRuns(ctx, filter)
}

// RunLog returns the execution log of a run in seq order.
func (e *Engine) RunLog(ctx context.Context, runID string) ([]LogEntry, error) {
	if x, ok := e.execution(runID); ok {
		return x.Log(), nil
	}
	if _, err := e.store.LoadRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.store.ListLog(ctx, runID)
}

// Shutdown cancels live runs and waits for them to finish or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, x := range e.live {
		x.Cancel()
	}
	e.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
