package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/internal/metrics"
	"github.com/optim-dev/aina/pkg/terminology"
	"github.com/optim-dev/aina/pkg/terminology/artifact"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/lifecycle"
	"github.com/optim-dev/aina/pkg/terminology/stem"
	"github.com/optim-dev/aina/pkg/terminology/store/memstore"
)

const testGlossary = `entries:
  - id: V-001
    recommended_term: exhaurir
    category: verb
    variants: [agotar]
  - id: L-001
    recommended_term: per tal que
    category: locution
    variants: [a fi de que]
`

type testServer struct {
	srv     *Server
	manager *lifecycle.Manager
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, bootstrap bool, cfg Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	path := filepath.Join(dir, "glossari.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testGlossary), 0o644))

	enc := embed.NewHashEncoder(32)
	holder := &index.Holder{}
	m := metrics.New(false)
	manager := &lifecycle.Manager{
		Holder:       holder,
		Builder:      &index.Builder{Encoder: enc, Stemmer: stem.New(), Log: logging.NewNop()},
		Catalog:      memstore.New(),
		Artifacts:    artifact.NewFileStore(filepath.Join(dir, "index")),
		GlossaryPath: path,
		Log:          logging.NewNop(),
		OnSwap:       m.IndexSwapped,
	}
	if bootstrap {
		_, err := manager.Bootstrap(context.Background(), true)
		require.NoError(t, err)
	}
	engine, err := terminology.New(terminology.Options{
		Holder: holder, Encoder: enc, Log: logging.NewNop(), Observer: m,
	})
	require.NoError(t, err)
	return &testServer{srv: New(engine, manager, m, logging.NewNop(), cfg), manager: manager, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestDetectEndpoint(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	rec := ts.do(t, http.MethodPost, "/detect", `{"text":"Cal agotar la via administrativa."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	resp := decode[terminology.Response](t, rec)
	assert.Equal(t, terminology.StateDone, resp.State)
	assert.Equal(t, ts.manager.Holder.Load().Version, resp.IndexVersion)
	var found bool
	for _, s := range resp.Suggestions {
		if s.Surface == "agotar" {
			found = true
			assert.Equal(t, "exhaurir", s.RecommendedTerm)
			assert.Equal(t, "V-001", s.EntryID)
		}
	}
	assert.True(t, found, "agotar not flagged: %s", rec.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
}

func TestDetectRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, true, Config{})

	rec := ts.do(t, http.MethodPost, "/detect", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/detect", `{"text":"hola","language":"es"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/detect", `{"text":"hola","threshold":1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectWithoutIndex(t *testing.T) {
	ts := newTestServer(t, false, Config{})
	rec := ts.do(t, http.MethodPost, "/detect", `{"text":"Cal agotar la via."}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "index_not_loaded", decode[errorBody](t, rec).Code)

	health := decode[terminology.Health](t, ts.do(t, http.MethodGet, "/health", ""))
	assert.False(t, health.IndexLoaded)
	assert.Equal(t, "degraded", health.Status)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, true, Config{MaxBodyBytes: 64})
	rec := ts.do(t, http.MethodPost, "/detect", `{"text":"`+strings.Repeat("a", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDetectBatchEndpoint(t *testing.T) {
	ts := newTestServer(t, true, Config{MaxBatch: 2})

	rec := ts.do(t, http.MethodPost, "/detect/batch",
		`{"documents":[{"text":"Cal agotar la via."},{"text":"hola","language":"fr"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[batchResponse](t, rec)
	require.Len(t, body.Results, 2)
	assert.Equal(t, 0, body.Results[0].Index)
	require.NotNil(t, body.Results[0].Response)
	assert.Equal(t, terminology.StateDone, body.Results[0].Response.State)
	assert.Equal(t, "invalid_input", body.Results[1].Code)

	rec = ts.do(t, http.MethodPost, "/detect/batch", `{"documents":[{"text":"a"},{"text":"b"},{"text":"c"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/detect/batch", `{"documents":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchReturnsBareArray(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	rec := ts.do(t, http.MethodPost, "/search", `{"candidates":["exhaurir","zzzz"],"k":3,"threshold":0.99}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "["))

	results := decode[[]terminology.SearchResult](t, rec)
	require.Len(t, results, 2)
	assert.Equal(t, "exhaurir", results[0].Original)
	require.NotEmpty(t, results[0].Matches)
	assert.Equal(t, "V-001", results[0].Matches[0].ID)
	assert.NotNil(t, results[1].Matches)
}

func TestSearchExplicitZeroThreshold(t *testing.T) {
	ts := newTestServer(t, true, Config{Threshold: 0.99})

	rec := ts.do(t, http.MethodPost, "/search", `{"candidates":["exhauria"],"k":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[[]terminology.SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Matches)

	rec = ts.do(t, http.MethodPost, "/search", `{"candidates":["exhauria"],"k":5,"threshold":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results = decode[[]terminology.SearchResult](t, rec)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].Matches)
	assert.Equal(t, "V-001", results[0].Matches[0].ID)
}

func TestDetectCandidatesEndpoint(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	rec := ts.do(t, http.MethodPost, "/detect-candidates", `{"text":"Cal agotar la via.","context_window":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[candidatesResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "rule", body.NLPModelUsed)
	require.Len(t, body.Candidates, 1)
	c := body.Candidates[0]
	assert.Equal(t, "agotar", c.Term)
	assert.Equal(t, 1, c.Position)
	assert.Equal(t, "V-001", c.GlossaryID)
	assert.Equal(t, "nlp", c.Source)
	assert.Equal(t, "Cal agotar la", c.Context)
}

func TestEntryEndpoint(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	rec := ts.do(t, http.MethodGet, "/entries/L-001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "per tal que")

	rec = ts.do(t, http.MethodGet, "/entries/X-999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVectorizeSwapsIndex(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	before := ts.manager.Holder.Load().Version

	rec := ts.do(t, http.MethodPost, "/vectorize", `{"glossary":[
		{"id":"N-001","terme_recomanat":"sol·licitud","categoria":"nom","variants_no_normatives":["solicitud"]},
		{"id":"V-001","terme_recomanat":"exhaurir","categoria":"verb","variants_no_normatives":"agotar"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[vectorizeResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.GlossaryEntries)
	assert.Equal(t, 2, body.VectorizedEntries)
	assert.Equal(t, 32, body.VectorDimensions)
	assert.Equal(t, "hash-ngram-v1", body.EmbeddingModel)
	assert.NotEqual(t, before, body.Version)
	assert.Equal(t, body.Version, ts.manager.Holder.Load().Version)

	rec = ts.do(t, http.MethodPost, "/detect", `{"text":"La solicitud és aquí."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recommendedTerm":"sol·licitud"`)
}

func TestVectorizeRejectsBadGlossary(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	served := ts.manager.Holder.Load()

	rec := ts.do(t, http.MethodPost, "/vectorize", `{"glossary":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/vectorize", `{"glossary":[{"id":"X","terme_recomanat":"x","categoria":"pronom"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "schema", decode[errorBody](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/vectorize", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Same(t, served, ts.manager.Holder.Load())
}

func TestReloadEndpoints(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	for _, path := range []string{"/reload", "/reload-variants"} {
		rec := ts.do(t, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode[reloadResponse](t, rec)
		assert.True(t, body.Success)
		assert.Equal(t, 2, body.VariantsCount)
		assert.Equal(t, ts.manager.Holder.Load().Version, body.Version)
	}
}

func TestRebuildsDisabledWithoutManager(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	srv := New(ts.srv.engine, nil, nil, logging.NewNop(), Config{})
	for _, path := range []string{"/reload", "/vectorize"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	ts.do(t, http.MethodPost, "/detect", `{"text":"Cal agotar la via."}`)

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `aina_terms_http_requests_total{code="200",route="/detect"} 1`)
	assert.Contains(t, out, `aina_terms_requests_total{state="done"} 1`)
	assert.Contains(t, out, "aina_terms_index_entries 2")
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	rec := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Code)
}
