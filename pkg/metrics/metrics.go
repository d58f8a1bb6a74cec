// Package metrics exposes Prometheus collectors for the relay. A nil
// *Metrics is valid; every method is then a no-op.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

type Metrics struct {
	ActiveActors    prometheus.Gauge
	OpenConnections prometheus.Gauge
	Evictions       prometheus.Counter
	RejectedConns   *prometheus.CounterVec
	Turns           *prometheus.CounterVec
	StreamedChunks  prometheus.Counter
	PersistSeconds  prometheus.Histogram
	PersistFailures prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveActors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_actors",
			Help: "Session actors currently resident in memory.",
		}),
		OpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_connections",
			Help: "WebSocket connections currently attached to an actor.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "actor_evictions_total",
			Help: "Idle session actors evicted from memory.",
		}),
		RejectedConns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_connections_total",
			Help: "Upgrade requests rejected before reaching an actor, by reason.",
		}, []string{"reason"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_total",
			Help: "Chat turns handled, by outcome.",
		}, []string{"status"}),
		StreamedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "streamed_chunks_total",
			Help: "Upstream chunks relayed to clients.",
		}),
		PersistSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "persist_duration_seconds",
			Help:    "Latency of full-history writes, retries included.",
			Buckets: prometheus.DefBuckets,
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "History writes that failed after all retries.",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ActorActivated() {
	if m != nil {
		m.ActiveActors.Inc()
	}
}

func (m *Metrics) ActorStopped(evicted bool) {
	if m == nil {
		return
	}
	m.ActiveActors.Dec()
	if evicted {
		m.Evictions.Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.OpenConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.OpenConnections.Dec()
	}
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m != nil {
		m.RejectedConns.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) TurnFinished(status string) {
	if m != nil {
		m.Turns.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ChunkStreamed() {
	if m != nil {
		m.StreamedChunks.Inc()
	}
}

func (m *Metrics) ObservePersist(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PersistSeconds.Observe(d.Seconds())
	if err != nil {
		m.PersistFailures.Inc()
	}
}
