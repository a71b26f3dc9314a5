// Package metrics exposes Prometheus collectors for the extractor service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractorBatchesTotal       *prometheus.CounterVec
	extractorBatchPauseSeconds  *prometheus.HistogramVec
	extractorSkippedDomains     prometheus.Counter
	extractorActiveWorkers      prometheus.Gauge
	extractorPacerDelaysSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractorBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_batches_total",
				Help: "Total batches processed, labeled by pause class.",
			},
			[]string{"pause"},
		)

		extractorBatchPauseSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_batch_pause_seconds",
				Help:    "Histogram of end-of-batch pause durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"pause"},
		)

		extractorSkippedDomains = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_skipped_domains_total",
				Help: "Total domains skipped because of an active cooldown.",
			},
		)

		extractorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_active_workers",
				Help: "Number of workers currently processing a batch.",
			},
		)

		// No per-domain label: the crawl surface is arbitrary publishers,
		// which would make the label cardinality unbounded.
		extractorPacerDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extractor_pacer_delays_seconds",
				Help:    "Histogram of inter-request pacing wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch records a completed batch and its chosen pause.
func ObserveBatch(longPause bool, pause time.Duration, skippedDomains int) {
	if extractorBatchesTotal == nil {
		return
	}
	label := "short"
	if longPause {
		label = "long"
	}
	extractorBatchesTotal.WithLabelValues(label).Inc()
	extractorBatchPauseSeconds.WithLabelValues(label).Observe(pause.Seconds())
	extractorSkippedDomains.Add(float64(skippedDomains))
}

// ObservePacerDelay records time spent waiting on the per-domain pacer.
func ObservePacerDelay(delay time.Duration) {
	if extractorPacerDelaysSeconds == nil {
		return
	}
	extractorPacerDelaysSeconds.Observe(delay.Seconds())
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	if extractorActiveWorkers == nil {
		return
	}
	extractorActiveWorkers.Inc()
}

// WorkerStopped marks a worker as idle.
func WorkerStopped() {
	if extractorActiveWorkers == nil {
		return
	}
	extractorActiveWorkers.Dec()
}
