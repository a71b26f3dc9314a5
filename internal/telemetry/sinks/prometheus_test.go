package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/telemetry"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []telemetry.Event{
		{
			URL:              "https://a.example.com/1",
			Domain:           "a.example.com",
			MethodsAttempted: []extract.Method{extract.MethodStructured},
			SuccessfulMethod: extract.MethodStructured,
			HTTPStatus:       200,
			Outcome:          extract.OutcomeExtracted,
			Elapsed:          150 * time.Millisecond,
			TS:               time.Now(),
		},
		{
			URL:              "https://b.example.com/2",
			Domain:           "b.example.com",
			MethodsAttempted: []extract.Method{extract.MethodStructured, extract.MethodHeuristicDOM, extract.MethodBrowser},
			HTTPStatus:       403,
			ProtectionKind:   "captcha",
			Outcome:          extract.OutcomeRateLimited,
			Elapsed:          12 * time.Second,
			TS:               time.Now(),
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues("extracted", "structured")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues("rate_limited", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.detections.WithLabelValues("captcha")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.methodsPerURL, "extractor_methods_attempted"))
	require.Equal(t, 2, testutil.CollectAndCount(sink.cascadeDuration, "extractor_cascade_duration_seconds"))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
