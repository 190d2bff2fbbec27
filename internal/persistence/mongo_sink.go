package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/workflow"
)

// InsertFunc 写入单个文档
type InsertFunc func(ctx context.Context, doc any) error

// logDocument 执行日志在 MongoDB 中的文档形态
type logDocument struct {
	ID        string    `bson:"_id"`
	RunID     string    `bson:"run_id"`
	Seq       int64     `bson:"seq"`
	Timestamp time.Time `bson:"timestamp"`
	NodeID    string    `bson:"node_id,omitempty"`
	Event     string    `bson:"event"`
	From      string    `bson:"from,omitempty"`
	To        string    `bson:"to"`
	Attempt   int       `bson:"attempt,omitempty"`
	Message   string    `bson:"message,omitempty"`
}

func toLogDocument(e workflow.LogEntry) logDocument {
	return logDocument{
		ID:        e.ID,
		RunID:     e.RunID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp.UTC(),
		NodeID:    e.NodeID,
		Event:     string(e.Event),
		From:      e.From,
		To:        e.To,
		Attempt:   e.Attempt,
		Message:   e.Message,
	}
}

// MongoLogSink 把执行日志镜像写入 MongoDB。写入失败返回错误，由执行器记录告警。
type MongoLogSink struct {
	insert InsertFunc
	client *mongo.Client
	logger *zap.Logger
}

var _ workflow.LogSink = (*MongoLogSink)(nil)

// NewMongoLogSink builds a sink over an arbitrary insert function.
func NewMongoLogSink(insert InsertFunc, logger *zap.Logger) *MongoLogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoLogSink{insert: insert, logger: logger.With(zap.String("component", "mongo_log_sink"))}
}

// MongoOptions 连接参数
type MongoOptions struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// OpenMongoLogSink connects, pings the primary and ensures the
// (run_id, seq) unique index.
func OpenMongoLogSink(ctx context.Context, opts MongoOptions, logger *zap.Logger) (*MongoLogSink, error) {
	if opts.URI == "" || opts.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required")
	}
	if opts.Collection == "" {
		opts.Collection = "execution_log"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI).SetConnectTimeout(opts.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create log index: %w", err)
	}

	sink := NewMongoLogSink(func(ctx context.Context, doc any) error {
		_, err := coll.InsertOne(ctx, doc)
		return err
	}, logger)
	sink.client = client
	sink.logger.Info("mongo log sink ready",
		zap.String("database", opts.Database),
		zap.String("collection", opts.Collection))
	return sink, nil
}

// Ping checks the connection. A sink built over a bare insert function
// has nothing to ping.
func (s *MongoLogSink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Append implements workflow.LogSink.
func (s *MongoLogSink) Append(ctx context.Context, entry workflow.LogEntry) error {
	if err := s.insert(ctx, toLogDocument(entry)); err != nil {
		s.logger.Warn("mirror log entry failed",
			zap.String("run_id", entry.RunID),
			zap.Int64("seq", entry.Seq),
			zap.Error(err))
		return fmt.Errorf("mongo append: %w", err)
	}
	return nil
}

// Close disconnects the client when the sink owns one.
func (s *MongoLogSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
