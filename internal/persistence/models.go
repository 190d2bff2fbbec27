package persistence

import (
	"time"

	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

// =============================================================================
// 🗃️ 表模型
// =============================================================================

type definitionModel struct {
	ID        string               `gorm:"primaryKey;size:128"`
	Name      string               `gorm:"size:255"`
	Version   string               `gorm:"size:64"`
	Body      *workflow.Definition `gorm:"column:body;type:text;serializer:json"`
	CreatedAt time.Time
}

func (definitionModel) TableName() string { return "workflow_definitions" }

type runModel struct {
	ID           string         `gorm:"primaryKey;size:64"`
	DefinitionID string         `gorm:"size:128;index"`
	Status       string         `gorm:"size:16;index"`
	Vars         map[string]any `gorm:"type:text;serializer:json"`
	Outputs      map[string]any `gorm:"type:text;serializer:json"`
	FailedNodeID string         `gorm:"size:128"`
	FailureClass string         `gorm:"size:16"`
	Error        string         `gorm:"type:text"`
	StartedAt    time.Time      `gorm:"index"`
	EndedAt      *time.Time
}

func (runModel) TableName() string { return "workflow_runs" }

type nodeExecutionModel struct {
	RunID        string `gorm:"primaryKey;size:64"`
	NodeID       string `gorm:"primaryKey;size:128"`
	Kind         string `gorm:"size:32"`
	Status       string `gorm:"size:16"`
	Attempts     int
	StartedAt    *time.Time
	EndedAt      *time.Time
	Output       any            `gorm:"type:text;serializer:json"`
	Metadata     map[string]any `gorm:"type:text;serializer:json"`
	ErrorCode    string         `gorm:"size:64"`
	ErrorClass   string         `gorm:"size:16"`
	ErrorMessage string         `gorm:"type:text"`
}

func (nodeExecutionModel) TableName() string { return "node_executions" }

type logEntryModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	RunID     string    `gorm:"size:64;uniqueIndex:idx_execution_log_run_seq"`
	Seq       int64     `gorm:"uniqueIndex:idx_execution_log_run_seq"`
	Timestamp time.Time
	NodeID    string `gorm:"size:128"`
	Event     string `gorm:"size:16"`
	FromState string `gorm:"size:16"`
	ToState   string `gorm:"size:16"`
	Attempt   int
	Message   string `gorm:"type:text"`
}

func (logEntryModel) TableName() string { return "execution_log" }

type toolCallModel struct {
	ID          string         `gorm:"primaryKey;size:64"`
	RunID       string         `gorm:"size:64;index"`
	NodeID      string         `gorm:"size:128"`
	EndpointID  string         `gorm:"size:128;index"`
	Tool        string         `gorm:"size:128;index"`
	Arguments   map[string]any `gorm:"type:text;serializer:json"`
	Result      any            `gorm:"type:text;serializer:json"`
	Status      string         `gorm:"size:16"`
	ErrorKind   string         `gorm:"size:16"`
	Error       string         `gorm:"type:text"`
	StartedAt   time.Time      `gorm:"index"`
	CompletedAt time.Time
	DurationMs  int64
}

func (toolCallModel) TableName() string { return "tool_calls" }

// Models lists every table managed by GormStore, in creation order.
func Models() []any {
	return []any{
		&definitionModel{},
		&runModel{},
		&nodeExecutionModel{},
		&logEntryModel{},
		&toolCallModel{},
	}
}

// =============================================================================
// 🔁 转换
// =============================================================================

func fromRun(run *workflow.Run) (runModel, []nodeExecutionModel) {
	rm := runModel{
		ID:           run.ID,
		DefinitionID: run.DefinitionID,
		Status:       string(run.Status),
		Vars:         run.Vars,
		Outputs:      run.Outputs,
		FailedNodeID: run.FailedNodeID,
		FailureClass: string(run.FailureClass),
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		EndedAt:      run.EndedAt,
	}
	nodes := make([]nodeExecutionModel, 0, len(run.Nodes))
	for id, ne := range run.Nodes {
		nm := nodeExecutionModel{
			RunID:     run.ID,
			NodeID:    id,
			Kind:      string(ne.Kind),
			Status:    string(ne.Status),
			Attempts:  ne.Attempts,
			StartedAt: ne.StartedAt,
			EndedAt:   ne.EndedAt,
			Output:    ne.Output,
			Metadata:  ne.Metadata,
		}
		if ne.Error != nil {
			nm.ErrorCode = string(ne.Error.Code)
			nm.ErrorClass = string(ne.Error.Class)
			nm.ErrorMessage = ne.Error.Message
		}
		nodes = append(nodes, nm)
	}
	return rm, nodes
}

func (m runModel) toRun(nodes []nodeExecutionModel) *workflow.Run {
	run := &workflow.Run{
		ID:           m.ID,
		DefinitionID: m.DefinitionID,
		Status:       workflow.RunStatus(m.Status),
		Vars:         m.Vars,
		Outputs:      m.Outputs,
		Nodes:        make(map[string]*workflow.NodeExecution, len(nodes)),
		FailedNodeID: m.FailedNodeID,
		FailureClass: types.Class(m.FailureClass),
		Error:        m.Error,
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
	}
	for _, nm := range nodes {
		ne := &workflow.NodeExecution{
			NodeID:    nm.NodeID,
			Kind:      workflow.NodeKind(nm.Kind),
			Status:    workflow.NodeStatus(nm.Status),
			Attempts:  nm.Attempts,
			StartedAt: nm.StartedAt,
			EndedAt:   nm.EndedAt,
			Output:    nm.Output,
			Metadata:  nm.Metadata,
		}
		if nm.ErrorCode != "" || nm.ErrorMessage != "" {
			ne.Error = &workflow.ErrorDetail{
				Code:    types.ErrorCode(nm.ErrorCode),
				Class:   types.Class(nm.ErrorClass),
				Message: nm.ErrorMessage,
			}
		}
		run.Nodes[nm.NodeID] = ne
	}
	return run
}

func fromLogEntry(e workflow.LogEntry) logEntryModel {
	return logEntryModel{
		ID:        e.ID,
		RunID:     e.RunID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		NodeID:    e.NodeID,
		Event:     string(e.Event),
		FromState: e.From,
		ToState:   e.To,
		Attempt:   e.Attempt,
		Message:   e.Message,
	}
}

func (m logEntryModel) toLogEntry() workflow.LogEntry {
	return workflow.LogEntry{
		ID:        m.ID,
		RunID:     m.RunID,
		Seq:       m.Seq,
		Timestamp: m.Timestamp,
		NodeID:    m.NodeID,
		Event:     workflow.LogEvent(m.Event),
		From:      m.FromState,
		To:        m.ToState,
		Attempt:   m.Attempt,
		Message:   m.Message,
	}
}

func fromCallRecord(rec tools.CallRecord) toolCallModel {
	return toolCallModel{
		ID:          rec.ID,
		RunID:       rec.RunID,
		NodeID:      rec.NodeID,
		EndpointID:  rec.EndpointID,
		Tool:        rec.Tool,
		Arguments:   rec.Arguments,
		Result:      rec.Result,
		Status:      rec.Status,
		ErrorKind:   string(rec.ErrorKind),
		Error:       rec.Error,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		DurationMs:  rec.DurationMs,
	}
}

func (m toolCallModel) toCallRecord() tools.CallRecord {
	return tools.CallRecord{
		ID:          m.ID,
		RunID:       m.RunID,
		NodeID:      m.NodeID,
		EndpointID:  m.EndpointID,
		Tool:        m.Tool,
		Arguments:   m.Arguments,
		Result:      m.Result,
		Status:      m.Status,
		ErrorKind:   tools.ErrorKind(m.ErrorKind),
		Error:       m.Error,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		DurationMs:  m.DurationMs,
	}
}
