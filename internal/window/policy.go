// Package window decides whether a conversation may receive freeform
// messages. Official-API accounts only allow freeform sends within the
// configured period after the customer's last inbound message; unofficial
// accounts are unrestricted.
package window

import (
	"context"
	"log/slog"
	"time"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/cache"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/store"
)

// CodeWindowExpired is the policy error code for a closed window.
const CodeWindowExpired = "window_expired"

type Engine struct {
	window time.Duration
	cache  cache.WindowCache
	convs  store.ConversationStore
	now    func() time.Time
}

// New builds an Engine. The cache may be nil; lookups then always hit the
// store.
func New(window time.Duration, c cache.WindowCache, convs store.ConversationStore) *Engine {
	return &Engine{
		window: window,
		cache:  c,
		convs:  convs,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock. Tests only.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Active reports whether the conversation's customer-service window is open.
func (e *Engine) Active(ctx context.Context, conversationID string) (bool, error) {
	last, ok, err := e.lastInbound(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return e.now().Sub(last) < e.window, nil
}

// Check rejects freeform sends on window-restricted accounts when the
// window is closed. It is evaluated at enqueue time (fast reject) and again
// at send time, since the window may expire while the message is queued.
func (e *Engine) Check(ctx context.Context, account model.Account, conversationID string, kind model.Kind) error {
	if account.ProviderKind != model.Official || !kind.Freeform() {
		return nil
	}

	active, err := e.Active(ctx, conversationID)
	if err != nil {
		return err
	}
	if !active {
		return provider.NewSendError(provider.ClassPolicy, CodeWindowExpired,
			"no inbound message from the customer in the last "+e.window.String())
	}
	return nil
}

// RecordInbound refreshes the cached window anchor after an inbound message.
// Webhooks arrive out of order; an anchor older than the cached one is
// ignored so a late delivery never shrinks the window.
func (e *Engine) RecordInbound(ctx context.Context, conversationID string, at time.Time) {
	if e.cache == nil {
		return
	}
	if cached, ok, err := e.cache.LastInbound(ctx, conversationID); err == nil && ok && !at.After(cached) {
		return
	}
	if err := e.cache.StoreLastInbound(ctx, conversationID, at); err != nil {
		slog.Warn("failed to cache last inbound", "conversation_id", conversationID, "error", err)
	}
}

func (e *Engine) lastInbound(ctx context.Context, conversationID string) (time.Time, bool, error) {
	if e.cache != nil {
		at, ok, err := e.cache.LastInbound(ctx, conversationID)
		if err != nil {
			slog.Warn("window cache lookup failed", "conversation_id", conversationID, "error", err)
		} else if ok {
			return at, true, nil
		}
	}

	conv, err := e.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return time.Time{}, false, err
	}
	if conv.LastInboundAt == nil {
		return time.Time{}, false, nil
	}

	// Backfill so the next check is a cache hit.
	e.RecordInbound(ctx, conversationID, *conv.LastInboundAt)
	return *conv.LastInboundAt, true, nil
}
