package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/newsloom/extractor/internal/metrics"
	"github.com/newsloom/extractor/internal/sensitivity"
)

// Pacer enforces the inter-request delay between fetches to the same domain.
// Each domain gets its own token bucket whose rate is re-derived from the
// sensitivity store before every wait, so an escalation slows the very next
// request.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	store    *sensitivity.Store
}

// NewPacer builds a Pacer over the shared sensitivity store.
func NewPacer(store *sensitivity.Store) *Pacer {
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		store:    store,
	}
}

// Wait blocks until the domain's next request slot, respecting the context.
func (p *Pacer) Wait(ctx context.Context, domain string) error {
	policy := p.store.PolicyFor(domain)
	limit := limitFor(policy)

	p.mu.Lock()
	limiter, ok := p.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(limit, 1)
		p.limiters[domain] = limiter
	} else if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait for %s: %w", domain, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacerDelay(waited)
	}
	return nil
}

// limitFor converts a policy's delay range into a request rate using the
// midpoint of the range.
func limitFor(policy sensitivity.Policy) rate.Limit {
	mid := (policy.DelayMin + policy.DelayMax) / 2
	if mid <= 0 {
		return rate.Inf
	}
	return rate.Every(mid)
}
