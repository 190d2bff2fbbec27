package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/internal/ctxkeys"
	"github.com/BaSui01/knowflow/types"
)

// edgeState 入边状态
type edgeState uint8

const (
	edgePending edgeState = iota
	edgeSatisfied
	edgeDead
)

// Executor 运行已编译的工作流图。
// 每次运行由一个调度协程独占全部状态迁移，工作协程只通过事件通道回报结果。
type Executor struct {
	handlers HandlerTable
	resolver ParamsResolver
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// ExecutorOption 配置 Executor
type ExecutorOption func(*Executor)

// WithParamsResolver sets the template resolver applied to node params before dispatch.
func WithParamsResolver(r ParamsResolver) ExecutorOption {
	return func(e *Executor) { e.resolver = r }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewExecutor creates an executor dispatching through the given handler table.
func NewExecutor(handlers HandlerTable, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		handlers: handlers,
		observer: nopObserver{},
		tracer:   otel.Tracer("knowflow/workflow"),
		logger:   logger.With(zap.String("component", "workflow_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOptions 单次运行参数
type RunOptions struct {
	RunID  string
	Vars   map[string]any
	Policy RunPolicy
	Sinks  []LogSink
	// OnSettle 在节点或运行到达终态后以快照调用，调用方通常用它持久化
	OnSettle func(run *Run)
}

// Execution 是一个正在进行（或已结束）的运行的句柄。
type Execution struct {
	exec   *Executor
	graph  *Graph
	policy RunPolicy
	opts   RunOptions
	logger *zap.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
	workCtx   context.Context
	stopWork  context.CancelFunc

	events chan event
	closed chan struct{}
	done   chan struct{}

	// mu 保护 run 与 entries；只有调度协程写入
	mu      sync.RWMutex
	run     *Run
	entries []LogEntry
	seq     int64
	unsent  []LogEntry

	// 以下字段只由调度协程访问
	states    []NodeStatus
	edges     []edgeState
	outputs   []any
	hasOutput []bool
	routes    []map[string]struct{}
	queue     []int
	running   int
	stopping  bool
	cancelled bool
	failed    bool
	grace     <-chan time.Time
	nodeStart []time.Time
}

type eventKind uint8

const (
	evAttempt eventKind = iota
	evRetry
	evDone
)

type event struct {
	kind    eventKind
	node    int
	attempt int
	delay   time.Duration
	out     *Output
	err     error
}

// Start launches a run asynchronously and returns its handle.
func (e *Executor) Start(g *Graph, opts RunOptions) *Execution {
	policy := opts.Policy.Merge(DefaultRunPolicy())
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	var (
		runCtx    context.Context
		runCancel context.CancelFunc
	)
	if policy.TimeoutMs > 0 {
		runCtx, runCancel = context.WithTimeout(context.Background(), time.Duration(policy.TimeoutMs)*time.Millisecond)
	} else {
		runCtx, runCancel = context.WithCancel(context.Background())
	}
	workCtx, stopWork := context.WithCancel(runCtx)

	n := g.Len()
	x := &Execution{
		exec:      e,
		graph:     g,
		policy:    policy,
		opts:      opts,
		logger:    e.logger.With(zap.String("run_id", opts.RunID), zap.String("definition_id", g.def.ID)),
		runCtx:    runCtx,
		runCancel: runCancel,
		workCtx:   workCtx,
		stopWork:  stopWork,
		events:    make(chan event, n*2+1),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
		states:    make([]NodeStatus, n),
		edges:     make([]edgeState, len(g.def.Edges)),
		outputs:   make([]any, n),
		hasOutput: make([]bool, n),
		routes:    make([]map[string]struct{}, n),
		nodeStart: make([]time.Time, n),
	}

	x.run = &Run{
		ID:           opts.RunID,
		DefinitionID: g.def.ID,
		Status:       RunRunning,
		Vars:         copyMap(opts.Vars),
		Nodes:        make(map[string]*NodeExecution, n),
		StartedAt:    time.Now(),
	}
	for i := 0; i < n; i++ {
		node := g.Node(i)
		x.states[i] = NodePending
		x.run.Nodes[node.ID] = &NodeExecution{NodeID: node.ID, Kind: node.Kind, Status: NodePending}
	}

	e.observer.RunStarted(g.def.ID)
	go x.loop()
	return x
}

// ID returns the run id.
func (x *Execution) ID() string { return x.opts.RunID }

// Done is closed once the run reaches a terminal state.
func (x *Execution) Done() <-chan struct{} { return x.done }

// Cancel requests cooperative cancellation. It is idempotent.
func (x *Execution) Cancel() { x.runCancel() }

// Wait blocks until the run ends or ctx is done, then returns a snapshot.
func (x *Execution) Wait(ctx context.Context) (*Run, error) {
	select {
	case <-x.done:
		return x.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a deep copy of the current run state.
func (x *Execution) Snapshot() *Run {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.run.Clone()
}

// Log returns the execution log recorded so far.
func (x *Execution) Log() []LogEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]LogEntry(nil), x.entries...)
}

// =============================================================================
// 🎯 调度循环
// =============================================================================

func (x *Execution) loop() {
	defer close(x.done)
	defer close(x.closed)
	defer x.runCancel()

	x.mu.Lock()
	x.appendLog("", "", string(RunRunning), 0, "run started")
	for _, idx := range x.graph.entries {
		x.setNodeStatus(idx, NodeReady, 0, "entry")
	}
	x.enqueue(x.graph.entries)
	x.mu.Unlock()
	x.settle()

	runDone := x.runCtx.Done()
	for {
		x.dispatch()
		x.flushLog()
		if x.finished() {
			break
		}
		select {
		case ev := <-x.events:
			// 先观察取消信号，再应用完成事件
			if runDone != nil && x.runCtx.Err() != nil {
				runDone = nil
				x.beginCancel()
			}
			x.handle(ev)
		case <-runDone:
			runDone = nil
			x.beginCancel()
		case <-x.grace:
			x.grace = nil
			x.abandonRunning()
		}
	}
	x.finalize()
}

func (x *Execution) finished() bool {
	if x.running > 0 {
		return false
	}
	if x.stopping {
		return true
	}
	return len(x.queue) == 0
}

// enqueue 按拓扑序追加到 READY 队列
func (x *Execution) enqueue(nodes []int) {
	if len(nodes) == 0 {
		return
	}
	sorted := append([]int(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return x.graph.topoPos[sorted[i]] < x.graph.topoPos[sorted[j]] })
	x.queue = append(x.queue, sorted...)
}

func (x *Execution) dispatch() {
	for !x.stopping && len(x.queue) > 0 && x.running < x.policy.MaxConcurrency {
		idx := x.queue[0]
		x.queue = x.queue[1:]

		x.mu.Lock()
		// READY -> RUNNING 的认领只发生一次
		if x.states[idx] != NodeReady {
			x.mu.Unlock()
			continue
		}
		now := time.Now()
		x.nodeStart[idx] = now
		ne := x.run.Nodes[x.graph.Node(idx).ID]
		ne.StartedAt = &now
		ne.Attempts = 1
		x.setNodeStatus(idx, NodeRunning, 1, "dispatched")
		upstream := x.upstreamFor(idx)
		x.mu.Unlock()

		x.running++
		go x.work(idx, upstream)
	}
}

// upstreamFor 汇总全部祖先的输出快照，需持有 mu。
func (x *Execution) upstreamFor(idx int) map[string]any {
	anc := x.graph.Ancestors(idx)
	up := make(map[string]any, len(anc))
	for _, a := range anc {
		if x.hasOutput[a] {
			up[x.graph.Node(a).ID] = copyValue(x.outputs[a])
		}
	}
	return up
}

func (x *Execution) handle(ev event) {
	switch ev.kind {
	case evAttempt:
		x.mu.Lock()
		x.run.Nodes[x.graph.Node(ev.node).ID].Attempts = ev.attempt
		x.mu.Unlock()

	case evRetry:
		node := x.graph.Node(ev.node)
		x.exec.observer.NodeRetried(node.Kind)
		x.mu.Lock()
		x.appendLogEvent(EventRetry, node.ID, string(NodeRunning), string(NodeRunning), ev.attempt,
			fmt.Sprintf("retry scheduled in %s: %v", ev.delay, ev.err))
		x.mu.Unlock()
		x.logger.Debug("node retry scheduled",
			zap.String("node_id", node.ID),
			zap.Int("attempt", ev.attempt),
			zap.Duration("delay", ev.delay),
			zap.Error(ev.err))

	case evDone:
		x.running--
		x.complete(ev.node, ev.out, ev.err)
	}
}

// complete 在同一个临界区内应用节点完成并重新计算下游就绪状态。
func (x *Execution) complete(idx int, out *Output, err error) {
	if x.states[idx] != NodeRunning {
		// 已在宽限期结束时被放弃
		return
	}
	node := x.graph.Node(idx)
	now := time.Now()

	x.mu.Lock()
	ne := x.run.Nodes[node.ID]
	ne.EndedAt = &now

	switch {
	case err == nil && x.stopping:
		// 取消信号之后的成功一律记为 CANCELLED 失败，保留输出用于诊断
		if out != nil {
			ne.Output = copyValue(out.Value)
			ne.Metadata = copyMap(out.Metadata)
		}
		ne.Error = &ErrorDetail{Code: types.ErrCancelled, Class: types.ClassCancelled, Message: "completed after run was stopped"}
		x.setNodeStatus(idx, NodeFailed, ne.Attempts, "completed after stop signal")

	case err == nil:
		var value any
		if out != nil {
			value = out.Value
			ne.Metadata = copyMap(out.Metadata)
			if node.Kind == KindCondition {
				taken := make(map[string]struct{}, len(out.Routes))
				for _, r := range out.Routes {
					taken[r] = struct{}{}
				}
				x.routes[idx] = taken
			}
		}
		x.outputs[idx] = value
		x.hasOutput[idx] = true
		ne.Output = copyValue(value)
		x.setNodeStatus(idx, NodeSucceeded, ne.Attempts, "")
		x.propagate(idx)

	default:
		ne.Error = detailOf(err)
		if x.stopping && ne.Error.Class != types.ClassCancelled {
			ne.Error.Class = types.ClassCancelled
		}
		x.setNodeStatus(idx, NodeFailed, ne.Attempts, err.Error())
		if node.BestEffort && !x.stopping {
			x.outputs[idx] = nil
			x.hasOutput[idx] = true
			x.propagate(idx)
		} else if !x.stopping {
			x.fail(idx, err)
		}
	}
	x.mu.Unlock()

	status := x.states[idx]
	x.exec.observer.NodeFinished(node.Kind, status, now.Sub(x.nodeStart[idx]))
	if status == NodeFailed {
		x.logger.Warn("node failed",
			zap.String("node_id", node.ID),
			zap.String("kind", string(node.Kind)),
			zap.Bool("best_effort", node.BestEffort),
			zap.Error(err))
	}
	x.settle()
}

// fail 记录首个失败节点并停止运行，需持有 mu。
func (x *Execution) fail(idx int, err error) {
	x.failed = true
	x.run.FailedNodeID = x.graph.Node(idx).ID
	x.run.FailureClass = types.ClassOf(err)
	x.run.Error = err.Error()
	x.stop("run failed")
}

// stop 停止派发：取消在途节点，把 PENDING/READY 节点标记为 SKIPPED，需持有 mu。
func (x *Execution) stop(reason string) {
	if x.stopping {
		return
	}
	x.stopping = true
	x.stopWork()
	x.queue = nil
	for _, idx := range x.graph.topo {
		if x.states[idx] == NodePending || x.states[idx] == NodeReady {
			x.setNodeStatus(idx, NodeSkipped, 0, reason)
		}
	}
	if x.running > 0 {
		x.grace = time.After(time.Duration(x.policy.CancelGraceMs) * time.Millisecond)
	}
}

func (x *Execution) beginCancel() {
	x.mu.Lock()
	if !x.stopping {
		x.cancelled = true
		msg := "run cancelled"
		if x.runCtx.Err() == context.DeadlineExceeded {
			msg = "run timed out"
		}
		x.run.Error = msg
		x.appendLogEvent(EventCancel, "", string(RunRunning), string(RunRunning), 0, msg)
		x.stop(msg)
	}
	x.mu.Unlock()
	x.settle()
}

// abandonRunning 宽限期结束后，仍在运行的节点记为 CANCELLED 失败。
func (x *Execution) abandonRunning() {
	now := time.Now()
	x.mu.Lock()
	for i := range x.states {
		if x.states[i] != NodeRunning {
			continue
		}
		ne := x.run.Nodes[x.graph.Node(i).ID]
		ne.EndedAt = &now
		ne.Error = &ErrorDetail{Code: types.ErrCancelled, Class: types.ClassCancelled, Message: "abandoned after cancel grace period"}
		x.setNodeStatus(i, NodeFailed, ne.Attempts, "cancel grace period elapsed")
	}
	x.mu.Unlock()
	x.logger.Warn("cancel grace period elapsed", zap.Int("abandoned", x.running))
	x.running = 0
}

// propagate 根据节点 idx 的终态更新出边并推进下游，需持有 mu。
func (x *Execution) propagate(idx int) {
	work := []int{idx}
	for len(work) > 0 {
		src := work[0]
		work = work[1:]

		var touched []int
		for _, ei := range x.graph.outgoing[src] {
			x.edges[ei] = x.edgeOutcome(src, ei)
			touched = append(touched, x.graph.targets[ei])
		}

		var ready []int
		for _, t := range touched {
			if x.states[t] != NodePending {
				continue
			}
			switch x.resolve(t) {
			case NodeReady:
				x.setNodeStatus(t, NodeReady, 0, "")
				ready = append(ready, t)
			case NodeSkipped:
				now := time.Now()
				x.run.Nodes[x.graph.Node(t).ID].EndedAt = &now
				x.setNodeStatus(t, NodeSkipped, 0, "no satisfied incoming edge")
				work = append(work, t)
			}
		}
		x.enqueue(ready)
	}
}

func (x *Execution) edgeOutcome(src, ei int) edgeState {
	switch x.states[src] {
	case NodeSucceeded:
		if x.graph.Node(src).Kind == KindCondition {
			if _, ok := x.routes[src][x.graph.Edge(ei).EdgeID()]; ok {
				return edgeSatisfied
			}
			return edgeDead
		}
		return edgeSatisfied
	case NodeFailed:
		node := x.graph.Node(src)
		if !node.BestEffort {
			return edgeDead
		}
		// 失败的 best-effort 条件节点只放行默认边，没有默认边时全部出边失效
		if node.Kind == KindCondition && !x.graph.Edge(ei).IsDefault() {
			return edgeDead
		}
		return edgeSatisfied
	case NodeSkipped:
		return edgeDead
	}
	return edgePending
}

// resolve 判断节点的入边是否已全部确定，返回 READY、SKIPPED 或 PENDING。
func (x *Execution) resolve(idx int) NodeStatus {
	satisfied, dead := 0, 0
	for _, ei := range x.graph.incoming[idx] {
		switch x.edges[ei] {
		case edgePending:
			return NodePending
		case edgeSatisfied:
			satisfied++
		case edgeDead:
			dead++
		}
	}
	switch {
	case dead == 0:
		return NodeReady
	case satisfied == 0:
		return NodeSkipped
	case x.policy.skippedSatisfies():
		return NodeReady
	}
	return NodeSkipped
}

func (x *Execution) finalize() {
	now := time.Now()
	x.mu.Lock()
	// 合法 DAG 下不应残留 PENDING，兜底处理
	for _, idx := range x.graph.topo {
		if x.states[idx] == NodePending || x.states[idx] == NodeReady {
			x.setNodeStatus(idx, NodeSkipped, 0, "run ended")
		}
	}

	from := x.run.Status
	switch {
	case x.cancelled:
		x.run.Status = RunCancelled
	case x.failed:
		x.run.Status = RunFailed
	default:
		x.run.Status = RunSucceeded
	}
	x.run.EndedAt = &now
	x.run.Outputs = x.collectOutputs()
	x.appendLog("", string(from), string(x.run.Status), 0, x.run.Error)
	status := x.run.Status
	x.mu.Unlock()

	x.stopWork()
	x.flushLog()
	x.exec.observer.RunFinished(x.graph.def.ID, status, now.Sub(x.run.StartedAt))
	x.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.String("failed_node_id", x.run.FailedNodeID),
		zap.Duration("duration", now.Sub(x.run.StartedAt)))
	x.settle()
}

// collectOutputs END 节点的输出作为运行输出；没有 END 节点时取所有汇点的输出。
func (x *Execution) collectOutputs() map[string]any {
	out := make(map[string]any)
	hasEnd := false
	for i := 0; i < x.graph.Len(); i++ {
		node := x.graph.Node(i)
		if node.Kind != KindEnd {
			continue
		}
		hasEnd = true
		if x.states[i] != NodeSucceeded {
			continue
		}
		if m, ok := x.outputs[i].(map[string]any); ok {
			for k, v := range m {
				out[k] = copyValue(v)
			}
		} else {
			out[node.ID] = copyValue(x.outputs[i])
		}
	}
	if hasEnd {
		return out
	}
	for i := 0; i < x.graph.Len(); i++ {
		if len(x.graph.outgoing[i]) == 0 && x.states[i] == NodeSucceeded {
			out[x.graph.Node(i).ID] = copyValue(x.outputs[i])
		}
	}
	return out
}

// setNodeStatus 迁移节点状态并写日志，需持有 mu。
func (x *Execution) setNodeStatus(idx int, to NodeStatus, attempt int, msg string) {
	from := x.states[idx]
	x.states[idx] = to
	id := x.graph.Node(idx).ID
	x.run.Nodes[id].Status = to
	x.appendLog(id, string(from), string(to), attempt, msg)
}

func (x *Execution) appendLog(nodeID, from, to string, attempt int, msg string) {
	x.appendLogEvent(EventTransition, nodeID, from, to, attempt, msg)
}

// appendLogEvent 追加一条日志，需持有 mu。
func (x *Execution) appendLogEvent(kind LogEvent, nodeID, from, to string, attempt int, msg string) {
	x.seq++
	entry := LogEntry{
		ID:        uuid.NewString(),
		RunID:     x.opts.RunID,
		Seq:       x.seq,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Event:     kind,
		From:      from,
		To:        to,
		Attempt:   attempt,
		Message:   msg,
	}
	x.entries = append(x.entries, entry)
	if len(x.opts.Sinks) > 0 {
		x.unsent = append(x.unsent, entry)
	}
}

// flushLog 在锁外按 seq 顺序把日志写入 sink，只由调度协程调用。
func (x *Execution) flushLog() {
	if len(x.unsent) == 0 {
		return
	}
	x.mu.Lock()
	batch := x.unsent
	x.unsent = nil
	x.mu.Unlock()

	for _, entry := range batch {
		for _, sink := range x.opts.Sinks {
			if err := sink.Append(context.Background(), entry); err != nil {
				x.logger.Warn("log sink append failed", zap.Int64("seq", entry.Seq), zap.Error(err))
			}
		}
	}
}

func (x *Execution) settle() {
	if x.opts.OnSettle != nil {
		x.opts.OnSettle(x.Snapshot())
	}
}

// =============================================================================
// 🔧 工作协程
// =============================================================================

func (x *Execution) send(ev event) {
	select {
	case x.events <- ev:
	case <-x.closed:
	}
}

func (x *Execution) work(idx int, upstream map[string]any) {
	node := x.graph.Node(idx)
	plan := planFor(node, x.policy)

	out, err := x.attempts(idx, node, plan, upstream)
	x.send(event{kind: evDone, node: idx, out: out, err: err})
}

func (x *Execution) attempts(idx int, node *Node, plan retryPlan, upstream map[string]any) (*Output, error) {
	handler, ok := x.exec.handlers[node.Kind]
	if !ok || handler == nil {
		return nil, types.NewError(types.ErrHandlerMissing, fmt.Sprintf("no handler registered for kind %q", node.Kind)).WithNodeID(node.ID)
	}

	vars := copyMap(x.opts.Vars)
	params := copyMap(node.Params)
	if x.exec.resolver != nil {
		resolved, err := x.exec.resolver(params, vars, upstream)
		if err != nil {
			return nil, types.WrapError(err, types.ErrInvalidParams, "resolve node params").WithNodeID(node.ID)
		}
		params = resolved
	}

	var branches []Branch
	if node.Kind == KindCondition {
		branches = x.graph.Branches(idx)
	}
	preds := x.graph.Predecessors(idx)

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			x.send(event{kind: evAttempt, node: idx, attempt: attempt})
		}
		if err := x.workCtx.Err(); err != nil {
			return nil, types.NewCancelledError("run stopped before attempt").WithNodeID(node.ID).WithCause(err)
		}

		req := &Request{
			RunID:        x.opts.RunID,
			NodeID:       node.ID,
			Kind:         node.Kind,
			Params:       params,
			Vars:         vars,
			Attempt:      attempt,
			Timeout:      node.Timeout(),
			Branches:     branches,
			Predecessors: preds,
		}
		out, err := x.invoke(handler, node, req, upstream)
		if err == nil {
			return out, nil
		}
		if !types.IsRetryable(err) || attempt >= plan.maxAttempts {
			return out, err
		}

		delay := backoffDelay(plan.base, plan.max, attempt)
		x.send(event{kind: evRetry, node: idx, attempt: attempt + 1, delay: delay, err: err})
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-x.workCtx.Done():
			timer.Stop()
			return nil, types.NewCancelledError("run stopped during retry backoff").WithNodeID(node.ID).WithCause(err)
		}
	}
}

// invoke 执行一次尝试：节点超时、panic 恢复与错误归类。
func (x *Execution) invoke(handler Handler, node *Node, req *Request, upstream map[string]any) (out *Output, err error) {
	ctx, span := x.exec.tracer.Start(x.workCtx, "workflow.node",
		trace.WithAttributes(
			attribute.String("run.id", req.RunID),
			attribute.String("node.id", node.ID),
			attribute.String("node.kind", string(node.Kind)),
			attribute.Int("node.attempt", req.Attempt),
		))
	defer span.End()

	attemptCtx := ctxkeys.WithNode(ctx, req.RunID, node.ID)
	if timeout := node.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("handler panic: %v", r)).WithNodeID(node.ID)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	out, err = handler.Execute(attemptCtx, req, upstream)
	if err == nil {
		return out, nil
	}

	switch {
	case x.workCtx.Err() != nil:
		if types.ClassOf(err) != types.ClassCancelled {
			err = types.NewCancelledError("run stopped").WithNodeID(node.ID).WithCause(err)
		}
	case attemptCtx.Err() == context.DeadlineExceeded:
		// 节点超时为 FATAL，不重试
		err = types.NewError(types.ErrNodeTimeout, fmt.Sprintf("node exceeded timeout %s", node.Timeout())).
			WithNodeID(node.ID).WithCause(err)
	default:
		if e, ok := types.AsError(err); ok && e.NodeID == "" {
			e.NodeID = node.ID
		}
	}
	return out, err
}
