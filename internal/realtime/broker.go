// Package realtime fans change notifications out to live viewers. The
// contract is deliberately weak: at-least-once, possibly duplicated,
// possibly out of order, identifiers only. Subscribers re-fetch or merge by
// primary key; the notification just means "something changed, re-sync".
package realtime

import (
	"context"
	"sync"
	"time"
)

type ChangeKind string

const (
	MessageCreated   ChangeKind = "message_created"
	MessageStatus    ChangeKind = "message_status"
	MessageReaction  ChangeKind = "message_reaction"
	MessageEdited    ChangeKind = "message_edited"
	MessageDeleted   ChangeKind = "message_deleted"
	ConversationRead ChangeKind = "conversation_read"
)

// Change identifies what mutated. It never carries the payload itself.
type Change struct {
	AccountID      string     `json:"accountId"`
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId,omitempty"`
	Kind           ChangeKind `json:"kind"`
	At             time.Time  `json:"at"`
}

type Broker interface {
	Publish(ctx context.Context, c Change) error

	// Subscribe returns a channel of changes for one account and a
	// cancel function releasing the subscription.
	Subscribe(ctx context.Context, accountID string) (<-chan Change, func(), error)
}

const subscriberBuffer = 64

// Hub is the in-process Broker used when Redis is not configured.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Change]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan Change]struct{}{}}
}

var _ Broker = (*Hub)(nil)

func (h *Hub) Publish(ctx context.Context, c Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}
	for ch := range h.subs[c.AccountID] {
		select {
		case ch <- c:
		default:
			// Slow subscriber; it will re-sync on its next notification.
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, accountID string) (<-chan Change, func(), error) {
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.subs[accountID] == nil {
		h.subs[accountID] = map[chan Change]struct{}{}
	}
	h.subs[accountID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[accountID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, accountID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Close drops all subscribers. Further publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, set := range h.subs {
		for ch := range set {
			close(ch)
		}
	}
	h.subs = map[string]map[chan Change]struct{}{}
}
