// Package memory provides an in-memory event log for tests and single-process runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/newsloom/extractor/internal/eventlog"
)

// Log stores appended events for inspection.
type Log struct {
	mu     sync.RWMutex
	events []eventlog.Event
}

// NewLog returns an empty in-memory log.
func NewLog() *Log {
	return &Log{}
}

// Append records the event, assigning a sequential ID when missing.
func (l *Log) Append(_ context.Context, event eventlog.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.ID == "" {
		event.ID = fmt.Sprintf("mem-%d", len(l.events)+1)
	}
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (l *Log) Events() []eventlog.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]eventlog.Event, len(l.events))
	copy(out, l.events)
	return out
}

// CountForDomain counts appended events for one domain.
func (l *Log) CountForDomain(domain string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, evt := range l.events {
		if evt.Domain == domain {
			n++
		}
	}
	return n
}
