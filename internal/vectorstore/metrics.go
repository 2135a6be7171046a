package vectorstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records vector store traffic.
type Metrics struct {
	// Operations counts calls by operation and result (success, error).
	Operations *prometheus.CounterVec
	// Duration observes whole calls including retries.
	Duration *prometheus.HistogramVec
	// Retries counts retry sleeps by operation.
	Retries *prometheus.CounterVec
	// Errors counts failed calls by operation and error class.
	Errors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgraph",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Vector store operations by result",
		}, []string{"op", "result"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kgraph",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgraph",
			Subsystem: "vectorstore",
			Name:      "retries_total",
			Help:      "Retried vector store attempts",
		}, []string{"op"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgraph",
			Subsystem: "vectorstore",
			Name:      "errors_total",
			Help:      "Failed vector store operations by error class",
		}, []string{"op", "class"}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		m.Operations.WithLabelValues(op, "success").Inc()
		return
	}
	m.Operations.WithLabelValues(op, "error").Inc()
	m.Errors.WithLabelValues(op, errorClass(err)).Inc()
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrCollectionNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidCollectionName):
		return "invalid"
	}
	return "other"
}
