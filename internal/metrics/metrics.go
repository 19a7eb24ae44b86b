// Package metrics exports detection pipeline metrics to Prometheus from a
// private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optim-dev/aina/pkg/terminology"
	"github.com/optim-dev/aina/pkg/terminology/index"
)

const namespace = "aina_terms"

// Metrics implements terminology.Observer.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	stage        *prometheus.HistogramVec
	candidates   *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	fallback     *prometheus.CounterVec
	batch        prometheus.Histogram
	indexEntries prometheus.Gauge
	indexInfo    *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
}

var _ terminology.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry. Go and process
// collectors are included when runtime is set.
func New(runtime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		)
	}
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Detection requests by final state.",
		}, []string{"state"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"stage"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "candidates_total",
			Help: "Candidates produced per tier.",
		}, []string{"tier"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "degraded_total",
			Help: "Requests in which a tier degraded.",
		}, []string{"tier"}),
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fallback_calls_total",
			Help: "Generative fallback calls by outcome.",
		}, []string{"outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "encoder_batch_size",
			Help:    "Phrases per encoder batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		indexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "index_entries",
			Help: "Glossary entries in the served index.",
		}),
		indexInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "index_info",
			Help: "Served index version and embedding model, value is always 1.",
		}, []string{"version", "model"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(m.requests, m.stage, m.candidates, m.degraded, m.fallback,
		m.batch, m.indexEntries, m.indexInfo, m.httpRequests)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RequestFinished(state terminology.State, _ time.Duration) {
	m.requests.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) StageFinished(stage terminology.State, d time.Duration) {
	m.stage.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) Candidates(tier string, n int) {
	m.candidates.WithLabelValues(tier).Add(float64(n))
}

func (m *Metrics) Degraded(tier string) {
	m.degraded.WithLabelValues(tier).Inc()
}

func (m *Metrics) FallbackCall(outcome string) {
	m.fallback.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EncoderBatch(n int) {
	m.batch.Observe(float64(n))
}

// IndexSwapped records the snapshot that is now served.
func (m *Metrics) IndexSwapped(snap *index.Snapshot) {
	m.indexEntries.Set(float64(snap.Stats().Entries))
	m.indexInfo.Reset()
	m.indexInfo.WithLabelValues(snap.Version, snap.ModelID).Set(1)
}

// HTTPRequest counts one served HTTP request.
func (m *Metrics) HTTPRequest(route string, code string) {
	m.httpRequests.WithLabelValues(route, code).Inc()
}
