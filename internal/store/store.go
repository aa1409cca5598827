// Package store persists accounts, contacts, conversations and messages.
// The message row is the only shared mutable resource in the engine; every
// status transition here is compare-and-set so the delivery worker and the
// receipt reconciler can race on the same row without lost updates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
)

var ErrNotFound = errors.New("not found")

type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)

	// ClaimPending returns up to limit claimable outbound messages and
	// flips them to sending. A message is claimable when it is the oldest
	// pending outbound message of its conversation, its backoff deadline
	// has passed, and the conversation has no in-flight send.
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]model.Message, error)

	// MarkSent records the provider id and advances status to sent without
	// regressing a receipt that may have landed first.
	MarkSent(ctx context.Context, id, providerMessageID string) error

	// ScheduleRetry returns a sending message to pending, consuming one
	// attempt and deferring the next claim until nextAttemptAt.
	ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time) error

	// MarkErrored moves the message to the terminal error state.
	// consumeAttempt is false for policy rejections at send time.
	MarkErrored(ctx context.Context, id string, info model.ErrorInfo, failedAt time.Time, consumeAttempt bool) error

	// AdvanceStatus applies a receipt-driven ladder move. It reports
	// whether anything changed; regressions and repeats are no-ops.
	AdvanceStatus(ctx context.Context, id string, status model.Status) (bool, error)

	// ResetForResend clears error fields and re-enters the queue as
	// pending with a fresh attempt counter.
	ResetForResend(ctx context.Context, id string) error

	// SetReaction replaces the actor's reaction; an empty emoji removes it.
	SetReaction(ctx context.Context, id, actor, emoji string) error

	ApplyEdit(ctx context.Context, id, body string) error

	// Tombstone soft-deletes the message, reporting whether the flag was
	// newly set.
	Tombstone(ctx context.Context, id string) (bool, error)

	// MarkConversationRead bulk-marks unread inbound messages as read and
	// returns the number of rows affected.
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)
}

type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// EnsureConversation upserts the contact by normalized phone and the
	// open conversation grouping messages with it under the account.
	EnsureConversation(ctx context.Context, accountID, phone, name string) (*model.Conversation, error)

	// TouchOutbound bumps last_message_at.
	TouchOutbound(ctx context.Context, conversationID string, at time.Time) error

	// TouchInbound bumps last_message_at and last_inbound_at, re-opening
	// the customer-service window.
	TouchInbound(ctx context.Context, conversationID string, at time.Time) error
}

type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	SetAccountStatus(ctx context.Context, id string, status model.ConnectionStatus) error
	GetContact(ctx context.Context, id string) (*model.Contact, error)
}

// Store aggregates the three repositories behind one dependency.
type Store interface {
	MessageStore
	ConversationStore
	AccountStore
}
