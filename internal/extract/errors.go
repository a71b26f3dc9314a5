package extract

import (
	"errors"
	"fmt"
)

// NotFoundError marks a permanently dead URL (404/410). The cascade aborts
// immediately and the URL must not consume further retry budget.
type NotFoundError struct {
	URL        string
	StatusCode int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("url %s is gone (status %d)", e.URL, e.StatusCode)
}

// RateLimitedError marks a domain-level transient block: the attempt stops,
// but the URL stays eligible once the domain's cooldown expires. Kind carries
// the classified protection kind that triggered it.
type RateLimitedError struct {
	Domain string
	Kind   string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("domain %s is blocking (%s)", e.Domain, e.Kind)
}

// ExtractionError wraps a method-specific transient failure. It is eligible
// for the next fallback method within the same cascade.
type ExtractionError struct {
	Method Method
	URL    string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction of %s failed: %v", e.Method, e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err resolves to a permanent not-found.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRateLimited reports whether err resolves to a domain-level block.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// OutcomeForError maps a cascade error to the candidate's resolution class.
func OutcomeForError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeExtracted
	case IsNotFound(err):
		return OutcomeNotFound
	case IsRateLimited(err):
		return OutcomeRateLimited
	default:
		return OutcomeFailed
	}
}
