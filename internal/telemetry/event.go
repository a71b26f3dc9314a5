// Package telemetry defines the per-attempt event stream emitted by the
// extraction workers and the hub that fans it out to sinks.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/newsloom/extractor/internal/extract"
)

// Event captures one extraction attempt end to end.
type Event struct {
	// URL is the candidate article URL; it should not contain credentials.
	URL string
	// Domain scopes the attempt to a publisher host label.
	Domain string
	// MethodsAttempted lists the cascade methods tried, in order.
	MethodsAttempted []extract.Method
	// SuccessfulMethod is the method that produced the article, empty when
	// the attempt did not succeed.
	SuccessfulMethod extract.Method
	// HTTPStatus is the last observed response status, zero when the fetch
	// never completed.
	HTTPStatus int
	// ProtectionKind is the classified anti-automation response, empty when
	// none was detected.
	ProtectionKind string
	// Outcome is the attempt's terminal class.
	Outcome extract.Outcome
	// Elapsed captures wall time for the whole cascade.
	Elapsed time.Duration
	// ProxyUsed records whether the fetch went through a proxy.
	ProxyUsed bool
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.URL == "" {
		return errors.New("url is required")
	}
	if e.Domain == "" {
		return errors.New("domain is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Outcome {
	case extract.OutcomeExtracted, extract.OutcomeNotFound, extract.OutcomeFailed, extract.OutcomeRateLimited:
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Elapsed < 0 {
		return errors.New("elapsed must be >= 0")
	}
	return nil
}

// FromAttempt builds an Event from a finished cascade attempt.
func FromAttempt(attempt extract.Attempt, ts time.Time) Event {
	return Event{
		URL:              attempt.URL,
		Domain:           attempt.Domain,
		MethodsAttempted: append([]extract.Method(nil), attempt.MethodsTried...),
		SuccessfulMethod: attempt.FinalMethod,
		HTTPStatus:       attempt.HTTPStatus,
		ProtectionKind:   attempt.DetectedKind,
		Outcome:          attempt.Outcome,
		Elapsed:          attempt.Elapsed,
		ProxyUsed:        attempt.ProxyUsed,
		TS:               ts.UTC(),
	}
}
