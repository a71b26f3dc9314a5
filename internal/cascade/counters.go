package cascade

import (
	"sync"

	"github.com/newsloom/extractor/internal/extract"
)

// failureCounters tracks consecutive failures per (method, domain). These are
// method-scoped and per-worker: they gate individual fallback methods,
// independently of the shared domain-level sensitivity state.
type failureCounters struct {
	mu     sync.Mutex
	counts map[extract.Method]map[string]int
}

func newFailureCounters() *failureCounters {
	return &failureCounters{
		counts: make(map[extract.Method]map[string]int),
	}
}

// Inc bumps the counter and returns the new value.
func (c *failureCounters) Inc(method extract.Method, domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	byDomain, ok := c.counts[method]
	if !ok {
		byDomain = make(map[string]int)
		c.counts[method] = byDomain
	}
	byDomain[domain]++
	return byDomain[domain]
}

// Count returns the current consecutive-failure count.
func (c *failureCounters) Count(method extract.Method, domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[method][domain]
}

// Reset clears the counter after a success.
func (c *failureCounters) Reset(method extract.Method, domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byDomain, ok := c.counts[method]; ok {
		delete(byDomain, domain)
	}
}
