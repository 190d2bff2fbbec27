package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/knowflow/types"
)

// RunFilter 运行列表过滤条件
type RunFilter struct {
	DefinitionID string
	Status       RunStatus
	Limit        int
}

// Store 持久化定义、运行（含节点执行）与执行日志。
type Store interface {
	SaveDefinition(ctx context.Context, def *Definition) error
	LoadDefinition(ctx context.Context, id string) (*Definition, error)
	ListDefinitions(ctx context.Context) ([]*Definition, error)

	SaveRun(ctx context.Context, run *Run) error
	LoadRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	AppendLog(ctx context.Context, entries ...LogEntry) error
	ListLog(ctx context.Context, runID string) ([]LogEntry, error)
}

// MemoryStore 进程内 Store 实现，用于测试与单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[string]*Definition
	runs map[string]*Run
	logs map[string][]LogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		defs: make(map[string]*Definition),
		runs: make(map[string]*Run),
		logs: make(map[string][]LogEntry),
	}
}

func (s *MemoryStore) SaveDefinition(ctx context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; ok {
		return types.NewError(types.ErrDefinitionExists, "definition already published: "+def.ID).WithHTTPStatus(409)
	}
	cp, err := def.Clone()
	if err != nil {
		return err
	}
	s.defs[def.ID] = cp
	return nil
}

func (s *MemoryStore) LoadDefinition(ctx context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	def, ok := s.defs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrDefinitionNotFound, "definition not found: "+id).WithHTTPStatus(404)
	}
	return def.Clone()
}

func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Definition, 0, len(s.defs))
	for _, def := range s.defs {
		cp, err := def.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStore) LoadRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, types.NewError(types.ErrRunNotFound, "run not found: "+id).WithHTTPStatus(404)
	}
	return run.Clone(), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.DefinitionID != "" && run.DefinitionID != filter.DefinitionID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entries ...LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.logs[e.RunID] = append(s.logs[e.RunID], e)
	}
	return nil
}

func (s *MemoryStore) ListLog(ctx context.Context, runID string) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogEntry(nil), s.logs[runID]...), nil
}
