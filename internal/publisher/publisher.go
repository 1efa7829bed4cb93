// Package publisher defines the outbound event publishing port.
package publisher

import "context"

// Publisher delivers completion payloads to an external topic. The returned
// ID is backend-specific and only useful for logging.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
