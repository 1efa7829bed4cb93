package record

import "context"

// Engine is the common tier contract. Implementations return a populated
// ScrapeResult on success; an error return signals a failed attempt the
// caller records against the circuit breaker. A *BlockedError return is
// the escalation trigger.
type Engine interface {
	Scrape(ctx context.Context, source Source, query Query) (ScrapeResult, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, source Source, query Query) (ScrapeResult, error)

// Scrape calls f.
func (f EngineFunc) Scrape(ctx context.Context, source Source, query Query) (ScrapeResult, error) {
	return f(ctx, source, query)
}
