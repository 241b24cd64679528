// Package metrics exposes query and mutation activity as Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/notehub/internal/mutation"
	"github.com/starford/notehub/internal/notehub"
)

const namespace = "notehub"

// Metrics implements query.Recorder, mutation.Recorder and sse.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	fetches        *prometheus.CounterVec
	fetchesRunning prometheus.Gauge
	staleResponses prometheus.Counter
	invalidated    prometheus.Counter
	mutations      *prometheus.CounterVec
	sseClients     prometheus.Gauge
	sseDropped     prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "cache_hits_total",
			Help:      "Keys served from the cache without a fetch.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetches_total",
			Help:      "List fetches by outcome.",
		}, []string{"outcome"}),
		fetchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetches_in_flight",
			Help:      "List fetches awaiting a response.",
		}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because their entry was invalidated meanwhile.",
		}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "invalidated_entries_total",
			Help:      "Cache entries discarded by invalidation.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "submissions_total",
			Help:      "Create and delete submissions by outcome.",
		}, []string{"op", "outcome"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "clients",
			Help:      "Connected event stream clients.",
		}),
		sseDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a client's buffer was full.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheHits,
		m.fetches,
		m.fetchesRunning,
		m.staleResponses,
		m.invalidated,
		m.mutations,
		m.sseClients,
		m.sseDropped,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

func (m *Metrics) FetchStarted() { m.fetchesRunning.Inc() }

func (m *Metrics) FetchFinished(err error) {
	m.fetchesRunning.Dec()
	outcome := "ok"
	if err != nil {
		outcome = notehub.ClassOf(err).String()
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

// StaleResponse is counted separately from FetchFinished: a discarded
// response never reaches it, so the in-flight gauge is settled here.
func (m *Metrics) StaleResponse() {
	m.fetchesRunning.Dec()
	m.staleResponses.Inc()
}

func (m *Metrics) Invalidated(n int) { m.invalidated.Add(float64(n)) }

func (m *Metrics) Mutation(op string, kind mutation.Kind) {
	m.mutations.WithLabelValues(op, kind.String()).Inc()
}

func (m *Metrics) ClientsChanged(n int) { m.sseClients.Set(float64(n)) }

func (m *Metrics) FrameDropped() { m.sseDropped.Inc() }
