package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports cache activity. A nil *Metrics records nothing.
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Entries   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Hits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgraph",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		Misses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgraph",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by tier",
		}, []string{"tier"}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgraph",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed by tier and reason (capacity, expired, invalidated)",
		}, []string{"tier", "reason"}),
		Entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kgraph",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current entries by tier",
		}, []string{"tier"}),
	}
}

func (m *Metrics) hit(tier string) {
	if m != nil {
		m.Hits.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) miss(tier string) {
	if m != nil {
		m.Misses.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) evicted(tier, reason string, n int) {
	if m != nil {
		m.Evictions.WithLabelValues(tier, reason).Add(float64(n))
	}
}

func (m *Metrics) size(tier string, n int) {
	if m != nil {
		m.Entries.WithLabelValues(tier).Set(float64(n))
	}
}
