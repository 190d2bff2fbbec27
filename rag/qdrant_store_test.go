package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQdrantSearcher_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/kb/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(4), body["limit"])
		filter := body["filter"].(map[string]any)["must"].([]any)[0].(map[string]any)
		assert.Equal(t, "dataset_id", filter["key"])

		_, _ = w.Write([]byte(`{"status":"ok","result":[
			{"id":"u1","score":0.91,"payload":{"fragment_id":"p1","document_id":"d1","dataset_id":"ds","text":"alpha"}},
			{"id":"u2","score":0.42,"payload":{}}
		]}`))
	}))
	defer srv.Close()

	s := NewQdrantSearcher(QdrantConfig{BaseURL: srv.URL, APIKey: "secret", Collection: "kb"}, zap.NewNop())
	hits, err := s.Search(context.Background(), []string{"ds"}, []float64{0.1, 0.2}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{FragmentID: "p1", DocumentID: "d1", DatasetID: "ds", Text: "alpha", Score: 0.91}, hits[0])
	assert.Equal(t, "u2", hits[1].FragmentID)
}

func TestQdrantSearcher_SearchMissingCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/missing/points/search", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection missing doesn't exist!"}}`))
	}))
	defer srv.Close()

	s := NewQdrantSearcher(QdrantConfig{BaseURL: srv.URL, Collection: "missing"}, nil)
	hits, err := s.Search(context.Background(), []string{"ds"}, []float64{1}, 3)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestQdrantSearcher_SearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":{"error":"service overloaded"}}`))
	}))
	defer srv.Close()

	s := NewQdrantSearcher(QdrantConfig{BaseURL: srv.URL, Collection: "kb"}, nil)
	_, err := s.Search(context.Background(), nil, []float64{1}, 3)
	var qe *QdrantError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, http.StatusInternalServerError, qe.Status)

	hits, err := s.Search(context.Background(), nil, []float64{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.Search(context.Background(), nil, nil, 3)
	assert.Error(t, err)

	_, err = NewQdrantSearcher(QdrantConfig{BaseURL: srv.URL}, nil).Search(context.Background(), nil, []float64{1}, 3)
	assert.Error(t, err)
}

func TestQdrantSearcher_UpsertCreatesCollectionOnce(t *testing.T) {
	var creates, upserts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/kb":
			creates++
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/kb/points":
			upserts++
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			var body struct {
				Points []struct {
					ID      string         `json:"id"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Points, 1)
			assert.Equal(t, qdrantPointID("p1"), body.Points[0].ID)
			assert.Equal(t, "p1", body.Points[0].Payload["fragment_id"])
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.URL.Path == "/collections/kb/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":7}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewQdrantSearcher(QdrantConfig{BaseURL: srv.URL, Collection: "kb", AutoCreateCollection: true}, nil)
	frag := IndexedFragment{ID: "p1", Text: "alpha", Embedding: []float64{1, 0}}
	require.NoError(t, s.Upsert(context.Background(), []IndexedFragment{frag}))
	require.NoError(t, s.Upsert(context.Background(), []IndexedFragment{frag}))
	assert.Equal(t, 1, creates)
	assert.Equal(t, 2, upserts)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	err = s.Upsert(context.Background(), []IndexedFragment{{ID: "a", Embedding: []float64{1}}, {ID: "b", Embedding: []float64{1, 2}}})
	assert.Error(t, err)
}

func TestQdrantPointIDStable(t *testing.T) {
	assert.Equal(t, qdrantPointID("frag-1"), qdrantPointID("frag-1"))
	assert.NotEqual(t, qdrantPointID("frag-1"), qdrantPointID("frag-2"))
}
