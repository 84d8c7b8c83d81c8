// Package metrics exports dotpreview scheduler metrics in Prometheus format.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dotpreview"

// Acknowledgement outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeStale  = "stale"
	OutcomeForced = "forced"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide metrics registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return defaultRegistry
}

// Registry holds all dotpreview metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	requests    prometheus.Counter
	superseded  prometheus.Counter
	dispatches  prometheus.Counter
	deferred    prometheus.Counter
	acks        *prometheus.CounterVec
	sessions    prometheus.Gauge
	viewClients prometheus.Gauge
	latency     prometheus.Histogram
}

// NewRegistry creates a registry with every collector registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_requests_total",
			Help:      "Render requests received from change and save events.",
		}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_requests_superseded_total",
			Help:      "Pending sources overwritten by a newer request before dispatch.",
		}),
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_dispatches_total",
			Help:      "Sources handed to a renderer.",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_dispatches_deferred_total",
			Help:      "Dispatch attempts deferred because a render was in flight.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_completions_total",
			Help:      "Render completions by outcome (ok, error, stale, forced).",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Open preview sessions.",
		}),
		viewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_clients",
			Help:      "Connected websocket view clients.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time from dispatch to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	r.reg.MustRegister(r.requests, r.superseded, r.dispatches, r.deferred,
		r.acks, r.sessions, r.viewClients, r.latency)
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// RecordRequest records an incoming render request.
func (r *Registry) RecordRequest() {
	r.requests.Inc()
}

// RecordSuperseded records a pending source replaced before it was sent.
func (r *Registry) RecordSuperseded() {
	r.superseded.Inc()
}

// RecordDispatch records a source handed to the renderer.
func (r *Registry) RecordDispatch() {
	r.dispatches.Inc()
}

// RecordDeferred records a dispatch held back by the render lock.
func (r *Registry) RecordDeferred() {
	r.deferred.Inc()
}

// RecordCompletion records how a dispatched render finished.
// A zero duration is not observed.
func (r *Registry) RecordCompletion(outcome string, d time.Duration) {
	r.acks.WithLabelValues(outcome).Inc()
	if d > 0 {
		r.latency.Observe(d.Seconds())
	}
}

// SessionOpened increments the open session gauge.
func (r *Registry) SessionOpened() {
	r.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (r *Registry) SessionClosed() {
	r.sessions.Dec()
}

// ClientConnected increments the view client gauge.
func (r *Registry) ClientConnected() {
	r.viewClients.Inc()
}

// ClientDisconnected decrements the view client gauge.
func (r *Registry) ClientDisconnected() {
	r.viewClients.Dec()
}
