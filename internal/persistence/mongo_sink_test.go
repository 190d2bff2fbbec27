package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/workflow"
)

type captureInserter struct {
	mu   sync.Mutex
	docs []any
	err  error
}

func (c *captureInserter) insert(ctx context.Context, doc any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.docs = append(c.docs, doc)
	return nil
}

func TestMongoLogSink_Append(t *testing.T) {
	capture := &captureInserter{}
	sink := NewMongoLogSink(capture.insert, zap.NewNop())

	ts := time.Date(2026, 5, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	entry := workflow.LogEntry{
		ID: "e1", RunID: "r1", Seq: 7, Timestamp: ts,
		NodeID: "search", Event: workflow.EventRetry, From: "running", To: "ready", Attempt: 2, Message: "timeout",
	}
	require.NoError(t, sink.Append(context.Background(), entry))

	require.Len(t, capture.docs, 1)
	doc, ok := capture.docs[0].(logDocument)
	require.True(t, ok)
	assert.Equal(t, "e1", doc.ID)
	assert.Equal(t, "r1", doc.RunID)
	assert.Equal(t, int64(7), doc.Seq)
	assert.Equal(t, "retry", doc.Event)
	assert.Equal(t, 2, doc.Attempt)
	assert.Equal(t, time.UTC, doc.Timestamp.Location())
	assert.True(t, ts.Equal(doc.Timestamp))
}

func TestMongoLogSink_AppendError(t *testing.T) {
	capture := &captureInserter{err: errors.New("no primary")}
	sink := NewMongoLogSink(capture.insert, nil)

	err := sink.Append(context.Background(), workflow.LogEntry{ID: "e", RunID: "r", Seq: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary")
	assert.NoError(t, sink.Close(context.Background()))
}

func TestOpenMongoLogSink_RequiresURI(t *testing.T) {
	_, err := OpenMongoLogSink(context.Background(), MongoOptions{Database: "kf"}, nil)
	assert.Error(t, err)
}
