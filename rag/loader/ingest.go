package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/knowflow/rag"
)

// IngestOptions 导入参数
type IngestOptions struct {
	Registry       *Registry    // nil 时使用内置 Loader
	Chunker        *Chunker     // nil 时使用估算分词器与默认窗口
	Embedder       rag.Embedder // nil 时只建关键词索引
	DefaultDataset string       // 根目录文件所属数据集，默认 "default"
	Concurrency    int          // 向量化并发度，默认 4
	Logger         *zap.Logger
}

// Ingest 遍历 dir，把支持的文件切分为片段。
// DocumentID 为相对路径（多文档文件追加 "#局部 id"），片段 ID 为 DocumentID:序号。
func Ingest(ctx context.Context, dir string, opts IngestOptions) ([]rag.IndexedFragment, error) {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Chunker == nil {
		opts.Chunker = NewChunker(nil, 0, 0)
	}
	if opts.DefaultDataset == "" {
		opts.DefaultDataset = "default"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "corpus_ingest"), zap.String("dir", dir))

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest: %s is not a directory", dir)
	}

	start := time.Now()
	var frags []rag.IndexedFragment
	files := 0

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !opts.Registry.Supports(path) {
			logger.Debug("skipping unsupported file", zap.String("path", path))
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		dataset := opts.DefaultDataset
		if i := strings.IndexByte(rel, '/'); i > 0 {
			dataset = rel[:i]
		}

		docs, err := opts.Registry.Load(ctx, path)
		if err != nil {
			return err
		}
		files++
		for _, doc := range docs {
			docID := rel
			if doc.ID != "" {
				docID = rel + "#" + doc.ID
			}
			ds := dataset
			if doc.DatasetID != "" {
				ds = doc.DatasetID
			}
			chunks, err := opts.Chunker.Split(doc.Text)
			if err != nil {
				return fmt.Errorf("%s: %w", docID, err)
			}
			for i, chunk := range chunks {
				frags = append(frags, rag.IndexedFragment{
					ID:         docID + ":" + strconv.Itoa(i),
					DocumentID: docID,
					DatasetID:  ds,
					Text:       chunk,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if opts.Embedder != nil && len(frags) > 0 {
		if err := embedAll(ctx, opts.Embedder, frags, opts.Concurrency); err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
	}

	logger.Info("corpus ingested",
		zap.Int("files", files),
		zap.Int("fragments", len(frags)),
		zap.Bool("embedded", opts.Embedder != nil),
		zap.Duration("duration", time.Since(start)))
	return frags, nil
}

func embedAll(ctx context.Context, embedder rag.Embedder, frags []rag.IndexedFragment, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range frags {
		g.Go(func() error {
			vec, err := embedder.EmbedQuery(gctx, frags[i].Text)
			if err != nil {
				return fmt.Errorf("embed %s: %w", frags[i].ID, err)
			}
			frags[i].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}
