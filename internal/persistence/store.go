package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/knowflow/internal/database"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

var (
	_ workflow.Store     = (*GormStore)(nil)
	_ tools.CallRecorder = (*GormStore)(nil)
)

// GormStore 关系型 Store 实现，同时记录工具调用。
type GormStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormStore wraps a pool manager.
func NewGormStore(pool *database.PoolManager, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{pool: pool, logger: logger.With(zap.String("component", "gorm_store"))}
}

// AutoMigrate creates or updates all tables. Production deployments use
// internal/migration instead.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(Models()...)
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// =============================================================================
// 📄 定义
// =============================================================================

func (s *GormStore) SaveDefinition(ctx context.Context, def *workflow.Definition) error {
	cp, err := def.Clone()
	if err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&definitionModel{}).Where("id = ?", def.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("check definition %s: %w", def.ID, err)
		}
		if count > 0 {
			return types.NewError(types.ErrDefinitionExists, "definition already published: "+def.ID).WithHTTPStatus(409)
		}
		m := definitionModel{
			ID:        cp.ID,
			Name:      cp.Name,
			Version:   cp.Version,
			Body:      cp,
			CreatedAt: cp.CreatedAt,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert definition %s: %w", def.ID, err)
		}
		return nil
	})
}

func (s *GormStore) LoadDefinition(ctx context.Context, id string) (*workflow.Definition, error) {
	var m definitionModel
	err := s.db(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrDefinitionNotFound, "definition not found: "+id).WithHTTPStatus(404)
	}
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", id, err)
	}
	if m.Body == nil {
		return nil, fmt.Errorf("definition %s has empty body", id)
	}
	return m.Body, nil
}

func (s *GormStore) ListDefinitions(ctx context.Context) ([]*workflow.Definition, error) {
	var rows []definitionModel
	if err := s.db(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	out := make([]*workflow.Definition, 0, len(rows))
	for _, m := range rows {
		if m.Body != nil {
			out = append(out, m.Body)
		}
	}
	return out, nil
}

// =============================================================================
// 🏃 运行
// =============================================================================

// SaveRun upserts the run row and its node executions in one transaction.
func (s *GormStore) SaveRun(ctx context.Context, run *workflow.Run) error {
	rm, nodes := fromRun(run)
	err := s.pool.WithTransactionRetry(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rm).Error; err != nil {
			return err
		}
		if len(nodes) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "node_id"}},
			UpdateAll: true,
		}).Create(&nodes).Error
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *GormStore) LoadRun(ctx context.Context, id string) (*workflow.Run, error) {
	var rm runModel
	err := s.db(ctx).Where("id = ?", id).First(&rm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrRunNotFound, "run not found: "+id).WithHTTPStatus(404)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	var nodes []nodeExecutionModel
	if err := s.db(ctx).Where("run_id = ?", id).Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("load node executions %s: %w", id, err)
	}
	return rm.toRun(nodes), nil
}

// ListRuns returns runs newest first.
func (s *GormStore) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]*workflow.Run, error) {
	q := s.db(ctx).Model(&runModel{})
	if filter.DefinitionID != "" {
		q = q.Where("definition_id = ?", filter.DefinitionID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []runModel
	if err := q.Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(rows) == 0 {
		return []*workflow.Run{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	var nodes []nodeExecutionModel
	if err := s.db(ctx).Where("run_id IN ?", ids).Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	byRun := make(map[string][]nodeExecutionModel, len(rows))
	for _, n := range nodes {
		byRun[n.RunID] = append(byRun[n.RunID], n)
	}

	out := make([]*workflow.Run, len(rows))
	for i, r := range rows {
		out[i] = r.toRun(byRun[r.ID])
	}
	return out, nil
}

// =============================================================================
// 📜 执行日志
// =============================================================================

func (s *GormStore) AppendLog(ctx context.Context, entries ...workflow.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]logEntryModel, len(entries))
	for i, e := range entries {
		rows[i] = fromLogEntry(e)
	}
	if err := s.db(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLog returns the entries of a run in sequence order.
func (s *GormStore) ListLog(ctx context.Context, runID string) ([]workflow.LogEntry, error) {
	var rows []logEntryModel
	if err := s.db(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list log %s: %w", runID, err)
	}
	out := make([]workflow.LogEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toLogEntry()
	}
	return out, nil
}

// =============================================================================
// 🔧 工具调用
// =============================================================================

// RecordToolCall implements tools.CallRecorder.
func (s *GormStore) RecordToolCall(ctx context.Context, rec tools.CallRecord) error {
	m := fromCallRecord(rec)
	if err := s.db(ctx).Create(&m).Error; err != nil {
		s.logger.Warn("record tool call failed", zap.String("call_id", rec.ID), zap.Error(err))
		return fmt.Errorf("record tool call %s: %w", rec.ID, err)
	}
	return nil
}

// ToolCallHistory returns persisted calls newest first.
func (s *GormStore) ToolCallHistory(ctx context.Context, f tools.HistoryFilter) ([]tools.CallRecord, error) {
	q := s.db(ctx).Model(&toolCallModel{})
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	if f.EndpointID != "" {
		q = q.Where("endpoint_id = ?", f.EndpointID)
	}
	if f.Tool != "" {
		q = q.Where("tool = ?", f.Tool)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []toolCallModel
	if err := q.Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tool call history: %w", err)
	}
	out := make([]tools.CallRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toCallRecord()
	}
	return out, nil
}
