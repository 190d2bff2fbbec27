package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/knowflow/internal/tlsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig configures the Qdrant vector searcher.
//
// Notes:
// - Qdrant point IDs are UUIDs; a stable UUID is derived from the fragment id.
// - Fragment text and ids are stored in the point payload.
type QdrantConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key,omitempty"`
	Collection string        `yaml:"collection" json:"collection"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	AutoCreateCollection bool   `yaml:"auto_create_collection" json:"auto_create_collection,omitempty"`
	Distance             string `yaml:"distance" json:"distance,omitempty"` // Cosine (default), Dot, Euclid
}

// payload keys
const (
	qdrantFragmentID = "fragment_id"
	qdrantDocumentID = "document_id"
	qdrantDatasetID  = "dataset_id"
	qdrantText       = "text"
)

// QdrantSearcher implements VectorSearcher using Qdrant's REST API.
type QdrantSearcher struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

var _ VectorSearcher = (*QdrantSearcher)(nil)

// NewQdrantSearcher creates a Qdrant-backed searcher.
func NewQdrantSearcher(cfg QdrantConfig, logger *zap.Logger) *QdrantSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	return &QdrantSearcher{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "qdrant")),
	}
}

var qdrantNamespace = uuid.MustParse("d9bde6d4-4f3a-4e6b-8f7a-5d8d2f3b4c1a")

func qdrantPointID(fragmentID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(fragmentID)).String()
}

func (s *QdrantSearcher) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *QdrantSearcher) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &QdrantError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// QdrantError is a non-2xx response.
type QdrantError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *QdrantError) Error() string {
	return fmt.Sprintf("qdrant request failed: method=%s path=%s status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

// EnsureCollection creates the collection once; an existing collection is not an error.
func (s *QdrantSearcher) EnsureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be > 0")
	}
	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{"size": vectorSize, "distance": s.cfg.Distance},
		}
		err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil)
		if qe, ok := err.(*QdrantError); ok && qe.Status == http.StatusConflict {
			err = nil
		}
		s.ensureErr = err
	})
	return s.ensureErr
}

// Upsert writes fragments with embeddings.
func (s *QdrantSearcher) Upsert(ctx context.Context, frags []IndexedFragment) error {
	if len(frags) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	size := len(frags[0].Embedding)
	for i, f := range frags {
		if f.ID == "" {
			return fmt.Errorf("fragment[%d] has empty id", i)
		}
		if len(f.Embedding) == 0 || len(f.Embedding) != size {
			return fmt.Errorf("fragment[%d] embedding dimension mismatch: got=%d want=%d", i, len(f.Embedding), size)
		}
	}
	if err := s.EnsureCollection(ctx, size); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(frags))
	for _, f := range frags {
		points = append(points, point{
			ID:     qdrantPointID(f.ID),
			Vector: f.Embedding,
			Payload: map[string]any{
				qdrantFragmentID: f.ID,
				qdrantDocumentID: f.DocumentID,
				qdrantDatasetID:  f.DatasetID,
				qdrantText:       f.Text,
			},
		})
	}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
		return err
	}
	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(frags)))
	return nil
}

// Search returns the top-k points, restricted to datasetIDs when given.
func (s *QdrantSearcher) Search(ctx context.Context, datasetIDs []string, embedding []float64, k int) ([]Hit, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if len(datasetIDs) > 0 {
		req["filter"] = map[string]any{
			"must": []any{map[string]any{
				"key":   qdrantDatasetID,
				"match": map[string]any{"any": datasetIDs},
			}},
		}
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		// 集合尚未创建（未写入任何片段）视为空索引
		var qe *QdrantError
		if errors.As(err, &qe) && qe.Status == http.StatusNotFound {
			s.logger.Debug("qdrant collection not found, returning no hits", zap.String("collection", s.cfg.Collection))
			return []Hit{}, nil
		}
		return nil, err
	}

	out := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		h := Hit{
			FragmentID: payloadString(r.Payload, qdrantFragmentID),
			DocumentID: payloadString(r.Payload, qdrantDocumentID),
			DatasetID:  payloadString(r.Payload, qdrantDatasetID),
			Text:       payloadString(r.Payload, qdrantText),
			Score:      r.Score,
		}
		if h.FragmentID == "" {
			h.FragmentID = fmt.Sprint(r.ID)
		}
		out = append(out, h)
	}
	return out, nil
}

// Count returns the exact number of points.
func (s *QdrantSearcher) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
