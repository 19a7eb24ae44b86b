package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/stem"
)

func TestObserverCounts(t *testing.T) {
	m := New(false)
	m.RequestFinished(terminology.StateDone, time.Millisecond)
	m.RequestFinished(terminology.StatePartiallyDone, time.Millisecond)
	m.RequestFinished(terminology.StateDone, time.Millisecond)
	m.Candidates(terminology.TierExactStem, 3)
	m.Degraded(terminology.TierVector)
	m.FallbackCall(terminology.FallbackTimeout)
	m.EncoderBatch(16)
	m.StageFinished(terminology.StateTier2, 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("partially_done")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.candidates.WithLabelValues("exact_stem")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("vector")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallback.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stage))
}

func TestIndexSwappedReplacesInfo(t *testing.T) {
	m := New(false)
	b := &index.Builder{Encoder: embed.NewHashEncoder(16), Stemmer: stem.New(), Log: logging.NewNop()}
	entries := []glossary.Entry{{ID: "V-001", RecommendedTerm: "exhaurir", Category: glossary.Verb, NonNormativeVariants: []string{"agotar"}}}

	first, err := b.Build(context.Background(), entries)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), entries)
	require.NoError(t, err)

	m.IndexSwapped(first)
	m.IndexSwapped(second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexEntries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.indexInfo))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexInfo.WithLabelValues(second.Version, "hash-ngram-v1")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(true)
	m.HTTPRequest("/detect", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `aina_terms_http_requests_total{code="200",route="/detect"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
