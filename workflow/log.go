package workflow

import (
	"context"
	"time"
)

// LogEvent 执行日志事件类型
type LogEvent string

const (
	EventTransition LogEvent = "transition"
	EventRetry      LogEvent = "retry"
	EventCancel     LogEvent = "cancel"
)

// LogEntry 执行日志条目。同一运行内 Seq 严格递增。
type LogEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id,omitempty"`
	Event     LogEvent  `json:"event"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Attempt   int       `json:"attempt,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// LogSink 接收执行日志。由调度协程单线程调用，实现不应长时间阻塞。
type LogSink interface {
	Append(ctx context.Context, entry LogEntry) error
}

// LogSinkFunc 适配函数为 LogSink
type LogSinkFunc func(ctx context.Context, entry LogEntry) error

// Append calls f.
func (f LogSinkFunc) Append(ctx context.Context, entry LogEntry) error { return f(ctx, entry) }
