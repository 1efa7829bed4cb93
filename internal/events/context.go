package events

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithSearchID attaches a search run ID to the context so per-source events
// correlate with their aggregate run.
func WithSearchID(ctx context.Context, id [16]byte) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// SearchIDFrom returns the search ID carried by ctx, minting a fresh one for
// standalone scrapes.
func SearchIDFrom(ctx context.Context) [16]byte {
	if id, ok := ctx.Value(ctxKey{}).([16]byte); ok {
		return id
	}
	return IDFromUUID(uuid.New())
}
