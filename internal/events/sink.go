package events

import "context"

// Sink consumes batches of scrape events. Implementations must honor ctx
// deadlines and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// router and aggregator stay agnostic about buffering.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops everything, for tests and disabled
// telemetry.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
