package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/knowflow/internal/ctxkeys"
	"github.com/BaSui01/knowflow/types"
)

// Config 注册表与健康探测配置
type Config struct {
	HealthCheckInterval    time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	HealthCheckTimeout     time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT"`
	DownAfter              int           `yaml:"down_after" env:"DOWN_AFTER"`
	UpAfter                int           `yaml:"up_after" env:"UP_AFTER"`
	HealthCheckConcurrency int           `yaml:"health_check_concurrency" env:"HEALTH_CHECK_CONCURRENCY"`
	HistorySize            int           `yaml:"history_size" env:"HISTORY_SIZE"`
	DefaultTimeout         time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:    30 * time.Second,
		HealthCheckTimeout:     5 * time.Second,
		DownAfter:              3,
		UpAfter:                1,
		HealthCheckConcurrency: 8,
		HistorySize:            500,
		DefaultTimeout:         180 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.DownAfter <= 0 {
		c.DownAfter = d.DownAfter
	}
	if c.UpAfter <= 0 {
		c.UpAfter = d.UpAfter
	}
	if c.HealthCheckConcurrency <= 0 {
		c.HealthCheckConcurrency = d.HealthCheckConcurrency
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	return c
}

// Call outcome labels used in history and metrics.
const (
	CallSuccess = "success"
	CallError   = "error"
)

// CallResult 工具调用结果
type CallResult struct {
	CallID     string        `json:"call_id"`
	EndpointID string        `json:"endpoint"`
	Tool       string        `json:"tool"`
	Result     any           `json:"result"`
	Duration   time.Duration `json:"duration"`
}

// CallRecord is one entry of the call history.
type CallRecord struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	EndpointID  string         `json:"endpoint"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Result      any            `json:"result,omitempty"`
	Status      string         `json:"status"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMs  int64          `json:"duration_ms"`
}

// HistoryFilter selects call records. Zero fields match everything.
type HistoryFilter struct {
	RunID      string
	EndpointID string
	Tool       string
	Limit      int
}

// CallRecorder persists call records.
type CallRecorder interface {
	RecordToolCall(ctx context.Context, rec CallRecord) error
}

// Observer 接收工具调用与健康变化指标
type Observer interface {
	ToolCallObserved(endpointID, status string, elapsed time.Duration)
	ToolHealthChanged(endpointID string, health HealthStatus)
}

type nopObserver struct{}

func (nopObserver) ToolCallObserved(string, string, time.Duration) {}
func (nopObserver) ToolHealthChanged(string, HealthStatus)         {}

// Option configures a Registry.
type Option func(*Registry)

// WithTransport overrides the transport used for a kind.
func WithTransport(kind TransportKind, t Transport) Option {
	return func(r *Registry) {
		if t != nil {
			r.transports[kind] = t
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithCallRecorder persists every call through rec.
func WithCallRecorder(rec CallRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

type entry struct {
	ep      Endpoint
	limiter *rate.Limiter

	health      HealthStatus
	lastChecked time.Time
	lastErr     string
	okStreak    int
	failStreak  int

	total    int64
	ok       int64
	failed   int64
	lastUsed time.Time
}

func (e *entry) status() EndpointStatus {
	ep := e.ep
	ep.Auth = ep.Auth.Redacted()
	return EndpointStatus{
		Endpoint:           ep,
		Health:             e.health,
		LastChecked:        e.lastChecked,
		LastError:          e.lastErr,
		TotalRequests:      e.total,
		SuccessfulRequests: e.ok,
		FailedRequests:     e.failed,
		LastUsed:           e.lastUsed,
	}
}

// Registry 工具端点注册表与健康表。
// 健康状态只由探测循环修改，读取走 RWMutex。
type Registry struct {
	cfg        Config
	logger     *zap.Logger
	transports map[TransportKind]Transport
	observer   Observer
	recorder   CallRecorder

	mu      sync.RWMutex
	entries map[string]*entry
	started bool
	closed  bool

	histMu  sync.Mutex
	history []CallRecord
	histPos int
	histLen int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRegistry creates a registry. The health-check loop starts on the first Register.
func NewRegistry(cfg Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "tool_registry")),
		transports: map[TransportKind]Transport{
			TransportHTTP:      NewHTTPTransport(nil),
			TransportSSE:       NewSSETransport(nil),
			TransportWebSocket: NewWebSocketTransport(logger),
		},
		observer: nopObserver{},
		entries:  make(map[string]*entry),
		history:  make([]CallRecord, cfg.HistorySize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an endpoint. A duplicate id is rejected.
func (r *Registry) Register(ep Endpoint) error {
	if err := ep.Validate(); err != nil {
		return types.NewError(types.ErrInvalidParams, err.Error()).WithHTTPStatus(http.StatusBadRequest)
	}
	if ep.Timeout <= 0 {
		ep.Timeout = r.cfg.DefaultTimeout
	}
	e := &entry{ep: ep, health: HealthUnknown}
	if ep.RateLimitRPS > 0 {
		burst := int(ep.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(ep.RateLimitRPS), burst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return types.NewError(types.ErrServiceUnavailable, "tool registry is closed").WithHTTPStatus(http.StatusServiceUnavailable)
	}
	if _, ok := r.entries[ep.ID]; ok {
		return types.NewError(types.ErrToolExists, fmt.Sprintf("tool endpoint %q already registered", ep.ID)).
			WithHTTPStatus(http.StatusConflict)
	}
	r.entries[ep.ID] = e
	if !r.started {
		r.started = true
		r.wg.Add(1)
		go r.healthLoop()
	}
	r.logger.Info("tool endpoint registered",
		zap.String("endpoint", ep.ID),
		zap.String("transport", string(ep.Transport)))
	return nil
}

// Unregister removes an endpoint.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return notFound(id)
	}
	delete(r.entries, id)
	r.logger.Info("tool endpoint unregistered", zap.String("endpoint", id))
	return nil
}

// Health returns the current health of an endpoint.
func (r *Registry) Health(id string) (HealthStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.health, true
}

// Status returns a snapshot of one endpoint.
func (r *Registry) Status(id string) (EndpointStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return EndpointStatus{}, false
	}
	return e.status(), true
}

// List returns snapshots of all endpoints ordered by id.
func (r *Registry) List() []EndpointStatus {
	r.mu.RLock()
	out := make([]EndpointStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.ID < out[j].Endpoint.ID })
	return out
}

// Call invokes a tool on an endpoint with a single attempt. A timeout <= 0
// uses the endpoint's configured timeout.
func (r *Registry) Call(ctx context.Context, endpointID string, req CallRequest, timeout time.Duration) (*CallResult, error) {
	r.mu.RLock()
	e, ok := r.entries[endpointID]
	var ep Endpoint
	var limiter *rate.Limiter
	if ok {
		ep, limiter = e.ep, e.limiter
	}
	r.mu.RUnlock()
	if !ok {
		return nil, notFound(endpointID)
	}
	if req.Tool == "" {
		return nil, types.NewError(types.ErrInvalidParams, "tool name is required").WithHTTPStatus(http.StatusBadRequest)
	}
	transport, ok := r.transports[ep.Transport]
	if !ok {
		return nil, types.NewError(types.ErrInternalError, fmt.Sprintf("no transport for %q", ep.Transport))
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, types.NewCancelledError("tool call cancelled while rate limited").WithCause(ctx.Err())
			}
			return nil, types.NewRetryableError(types.ErrRateLimited, "tool endpoint rate limit").WithCause(err)
		}
	}

	if timeout <= 0 {
		timeout = ep.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	raw, err := transport.Call(callCtx, ep, req)
	elapsed := time.Since(started)

	rec := CallRecord{
		ID:          uuid.NewString(),
		EndpointID:  endpointID,
		Tool:        req.Tool,
		Arguments:   req.Arguments,
		StartedAt:   started,
		CompletedAt: started.Add(elapsed),
		DurationMs:  elapsed.Milliseconds(),
	}
	rec.RunID, _ = ctxkeys.RunID(ctx)
	rec.NodeID, _ = ctxkeys.NodeID(ctx)

	var result any
	if err == nil {
		if uerr := json.Unmarshal(raw, &result); uerr != nil {
			err = protocolErr("decode result", uerr)
		}
	}

	var callErr error
	if err != nil {
		callErr = r.classify(ctx, callCtx, err, endpointID, req.Tool)
		rec.Status = CallError
		rec.Error = callErr.Error()
		var te *ToolError
		if errors.As(callErr, &te) {
			rec.ErrorKind = te.Kind
		}
	} else {
		rec.Status = CallSuccess
		rec.Result = result
	}

	r.finishCall(ctx, e, rec, elapsed)

	if callErr != nil {
		r.logger.Warn("tool call failed",
			zap.String("endpoint", endpointID),
			zap.String("tool", req.Tool),
			zap.Duration("elapsed", elapsed),
			zap.Error(callErr))
		return nil, callErr
	}
	return &CallResult{
		CallID:     rec.ID,
		EndpointID: endpointID,
		Tool:       req.Tool,
		Result:     result,
		Duration:   elapsed,
	}, nil
}

// classify 父 context 取消视为 CANCELLED，调用自身超时视为 timeout。
func (r *Registry) classify(parent, callCtx context.Context, err error, endpointID, tool string) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return types.NewCancelledError("tool call cancelled").WithCause(parent.Err())
	}
	var te *ToolError
	if !errors.As(err, &te) {
		te = transportError(callCtx, err)
	}
	if callCtx.Err() == context.DeadlineExceeded && te.Kind == KindConnect {
		te = &ToolError{Kind: KindTimeout, Message: "call deadline exceeded", Cause: te.Cause}
	}
	te.EndpointID = endpointID
	te.Tool = tool
	return te.TypesError()
}

func (r *Registry) finishCall(ctx context.Context, e *entry, rec CallRecord, elapsed time.Duration) {
	r.mu.Lock()
	e.total++
	if rec.Status == CallSuccess {
		e.ok++
	} else {
		e.failed++
	}
	e.lastUsed = rec.CompletedAt
	r.mu.Unlock()

	r.appendHistory(rec)
	r.observer.ToolCallObserved(rec.EndpointID, rec.Status, elapsed)

	if r.recorder != nil {
		if err := r.recorder.RecordToolCall(context.WithoutCancel(ctx), rec); err != nil {
			r.logger.Warn("failed to persist tool call",
				zap.String("call_id", rec.ID),
				zap.Error(err))
		}
	}
}

func (r *Registry) appendHistory(rec CallRecord) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history[r.histPos] = rec
	r.histPos = (r.histPos + 1) % len(r.history)
	if r.histLen < len(r.history) {
		r.histLen++
	}
}

// History returns matching call records, newest first.
func (r *Registry) History(f HistoryFilter) []CallRecord {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	var out []CallRecord
	size := len(r.history)
	for i := 1; i <= r.histLen; i++ {
		rec := r.history[(r.histPos-i+size)%size]
		if f.RunID != "" && rec.RunID != f.RunID {
			continue
		}
		if f.EndpointID != "" && rec.EndpointID != f.EndpointID {
			continue
		}
		if f.Tool != "" && rec.Tool != f.Tool {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// =============================================================================
// 🩺 健康探测
// =============================================================================

func (r *Registry) healthLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.CheckHealth(r.ctx)
		}
	}
}

// CheckHealth checks every registered endpoint once, concurrently.
func (r *Registry) CheckHealth(ctx context.Context) {
	r.mu.RLock()
	targets := make([]Endpoint, 0, len(r.entries))
	for _, e := range r.entries {
		targets = append(targets, e.ep)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.HealthCheckConcurrency)
	for _, ep := range targets {
		g.Go(func() error {
			transport, ok := r.transports[ep.Transport]
			if !ok {
				return nil
			}
			pctx, cancel := context.WithTimeout(gctx, r.cfg.HealthCheckTimeout)
			err := transport.HealthCheck(pctx, ep)
			cancel()
			if gctx.Err() != nil {
				return nil
			}
			r.applyHealthCheck(ep.ID, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) applyHealthCheck(id string, checkErr error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := e.health
	e.lastChecked = time.Now()
	if checkErr == nil {
		e.okStreak++
		e.failStreak = 0
		e.lastErr = ""
		if e.health != HealthUp && e.okStreak >= r.cfg.UpAfter {
			e.health = HealthUp
		}
	} else {
		e.failStreak++
		e.okStreak = 0
		e.lastErr = checkErr.Error()
		if e.health != HealthDown && e.failStreak >= r.cfg.DownAfter {
			e.health = HealthDown
		}
	}
	next := e.health
	r.mu.Unlock()

	if next != prev {
		r.logger.Info("tool endpoint health changed",
			zap.String("endpoint", id),
			zap.String("from", string(prev)),
			zap.String("to", string(next)))
		r.observer.ToolHealthChanged(id, next)
	}
}

// Close stops the health-check loop and releases transports.
func (r *Registry) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.cancel()
		r.wg.Wait()
		for _, t := range r.transports {
			if c, ok := t.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	})
	return errors.Join(errs...)
}

func notFound(id string) *types.Error {
	return types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool endpoint %q not found", id)).
		WithHTTPStatus(http.StatusNotFound)
}
