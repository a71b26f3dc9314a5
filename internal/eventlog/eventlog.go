// Package eventlog defines the append-only bot-detection audit log.
package eventlog

import (
	"context"
	"time"
)

// Event is one detected protection instance. Exactly one record is appended
// per distinct detection, never per retry.
type Event struct {
	ID         string
	Domain     string
	EventType  string
	DetectedAt time.Time
}

// Log appends detection events. Implementations assign IDs when empty.
type Log interface {
	Append(ctx context.Context, event Event) error
}
