package telemetry

import "context"

// Sink consumes batches of attempt events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// extraction path can remain agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every event. Useful as a default when telemetry is
// disabled.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) {}
