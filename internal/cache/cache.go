package cache

import (
	"context"
	"time"
)

// WindowCache remembers when a contact last wrote in, so the 24h window
// policy can be evaluated without a store round trip on every send.
type WindowCache interface {
	StoreLastInbound(ctx context.Context, conversationID string, at time.Time) error
	LastInbound(ctx context.Context, conversationID string) (time.Time, bool, error)
}
