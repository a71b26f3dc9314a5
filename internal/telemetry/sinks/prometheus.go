package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/newsloom/extractor/internal/telemetry"
)

// PrometheusSink exports attempt metrics via Prometheus. It owns all
// collectors for attempt outcomes, detections, and cascade latency.
type PrometheusSink struct {
	attempts        *prometheus.CounterVec
	detections      *prometheus.CounterVec
	methodsPerURL   prometheus.Histogram
	cascadeDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_attempts_total",
			Help: "Extraction attempts partitioned by outcome and final method.",
		}, []string{"outcome", "method"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_protection_detections_total",
			Help: "Classified bot-protection responses partitioned by kind.",
		}, []string{"kind"}),
		methodsPerURL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extractor_methods_attempted",
			Help:    "Number of cascade methods tried per URL.",
			Buckets: []float64{1, 2, 3},
		}),
		cascadeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_cascade_duration_seconds",
			Help:    "Wall time per cascade run partitioned by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.attempts,
		s.detections,
		s.methodsPerURL,
		s.cascadeDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register telemetry collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []telemetry.Event) error {
	for _, evt := range batch {
		s.attempts.WithLabelValues(string(evt.Outcome), string(evt.SuccessfulMethod)).Inc()
		if evt.ProtectionKind != "" {
			s.detections.WithLabelValues(evt.ProtectionKind).Inc()
		}
		if n := len(evt.MethodsAttempted); n > 0 {
			s.methodsPerURL.Observe(float64(n))
		}
		s.cascadeDuration.WithLabelValues(string(evt.Outcome)).Observe(evt.Elapsed.Seconds())
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
