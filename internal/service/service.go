// Package service implements the operations behind the HTTP surface:
// enqueueing outbound messages, resending failed ones, propagating
// reactions, edits and deletes, read marking, and webhook ingestion.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/realtime"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/reconcile"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/store"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/window"
)

// bodyMaxRunes bounds freeform text, matching the strictest provider limit.
const bodyMaxRunes = 4096

type Service struct {
	store      store.Store
	registry   *provider.Registry
	window     *window.Engine
	reconciler *reconcile.Reconciler
	broker     realtime.Broker
	now        func() time.Time
}

func New(s store.Store, r *provider.Registry, w *window.Engine, rec *reconcile.Reconciler, b realtime.Broker) *Service {
	return &Service{
		store:      s,
		registry:   r,
		window:     w,
		reconciler: rec,
		broker:     b,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock. Tests only.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// SendInput is one outbound message request.
type SendInput struct {
	To         string            `json:"to"`
	Kind       model.Kind        `json:"kind"`
	Body       string            `json:"body,omitempty"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
}

func (in SendInput) validate() error {
	if strings.TrimSpace(in.To) == "" {
		return provider.NewSendError(provider.ClassValidation, "missing_recipient", "to is required")
	}
	switch in.Kind {
	case model.KindText, model.KindButtons:
		if strings.TrimSpace(in.Body) == "" {
			return provider.NewSendError(provider.ClassValidation, "missing_body", "body is required")
		}
	case model.KindImage, model.KindVideo, model.KindAudio, model.KindDocument:
		if in.Attachment == nil || in.Attachment.URL == "" {
			return provider.NewSendError(provider.ClassValidation, "missing_attachment",
				fmt.Sprintf("%s messages require an attachment", in.Kind))
		}
	default:
		return provider.NewSendError(provider.ClassValidation, "unknown_kind",
			fmt.Sprintf("unknown message kind %q", in.Kind))
	}
	if utf8.RuneCountInString(in.Body) > bodyMaxRunes {
		return provider.NewSendError(provider.ClassValidation, "body_too_long",
			fmt.Sprintf("body exceeds %d characters", bodyMaxRunes))
	}
	return nil
}

// SendMessage validates, applies the enqueue-time window check, and queues
// the message as pending. Delivery happens asynchronously on the dispatcher.
func (s *Service) SendMessage(ctx context.Context, accountID string, in SendInput) (*model.Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status == model.Disconnected {
		return nil, provider.NewSendError(provider.ClassDisconnected, "account_disconnected",
			"account is disconnected from its provider")
	}

	conv, err := s.store.EnsureConversation(ctx, accountID, in.To, "")
	if err != nil {
		return nil, err
	}

	// Fast reject; the worker re-checks at send time.
	if err := s.window.Check(ctx, *account, conv.ID, in.Kind); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      model.Outbound,
		Kind:           in.Kind,
		Body:           in.Body,
		Attachment:     in.Attachment,
		Status:         model.Pending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.TouchOutbound(ctx, conv.ID, now); err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.Change{
		AccountID:      accountID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Kind:           realtime.MessageCreated,
		At:             now,
	})
	return msg, nil
}

// ListMessages returns a page of the conversation's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

// Resend re-queues an errored outbound message with a fresh attempt budget.
func (s *Service) Resend(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != model.Outbound {
		return nil, provider.NewSendError(provider.ClassValidation, "not_outbound", "only outbound messages can be resent")
	}
	if msg.Status != model.Errored {
		return nil, provider.NewSendError(provider.ClassValidation, "not_errored",
			fmt.Sprintf("only errored messages can be resent, status is %s", msg.Status))
	}

	if err := s.store.ResetForResend(ctx, messageID); err != nil {
		return nil, err
	}

	account, conv, err := s.ownerOf(ctx, msg)
	if err == nil {
		s.publish(ctx, realtime.Change{
			AccountID:      account.ID,
			ConversationID: conv.ID,
			MessageID:      messageID,
			Kind:           realtime.MessageStatus,
			At:             s.now(),
		})
	}
	return s.store.GetMessage(ctx, messageID)
}

// React stores the actor's reaction locally and propagates it to the
// provider when the backend supports reactions. Remote failures are logged,
// not surfaced; the local state is authoritative for the UI.
func (s *Service) React(ctx context.Context, messageID, actor, emoji string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return provider.NewSendError(provider.ClassValidation, "message_deleted", "cannot react to a deleted message")
	}

	if err := s.store.SetReaction(ctx, messageID, actor, emoji); err != nil {
		return err
	}

	account, conv, err := s.ownerOf(ctx, msg)
	if err != nil {
		return err
	}

	if msg.ProviderMessageID != "" {
		if reactor, ok := s.registry.ReactorFor(*account); ok {
			if err := reactor.React(ctx, *account, msg.ProviderMessageID, emoji); err != nil {
				slog.Warn("remote reaction failed", "message_id", messageID, "error", err)
			}
		}
	}

	s.publish(ctx, realtime.Change{
		AccountID:      account.ID,
		ConversationID: conv.ID,
		MessageID:      messageID,
		Kind:           realtime.MessageReaction,
		At:             s.now(),
	})
	return nil
}

// Edit rewrites the body of a sent outbound message on backends that
// support editing.
func (s *Service) Edit(ctx context.Context, messageID, body string) error {
	if strings.TrimSpace(body) == "" {
		return provider.NewSendError(provider.ClassValidation, "missing_body", "body is required")
	}
	if utf8.RuneCountInString(body) > bodyMaxRunes {
		return provider.NewSendError(provider.ClassValidation, "body_too_long",
			fmt.Sprintf("body exceeds %d characters", bodyMaxRunes))
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Direction != model.Outbound {
		return provider.NewSendError(provider.ClassValidation, "not_outbound", "only outbound messages can be edited")
	}
	if msg.Deleted {
		return provider.NewSendError(provider.ClassValidation, "message_deleted", "cannot edit a deleted message")
	}

	account, conv, err := s.ownerOf(ctx, msg)
	if err != nil {
		return err
	}

	editor, ok := s.registry.EditorFor(*account)
	if !ok {
		return provider.NewSendError(provider.ClassRejected, "edit_unsupported",
			"the account's provider does not support editing")
	}
	if msg.ProviderMessageID != "" {
		if err := editor.EditMessage(ctx, *account, msg.ProviderMessageID, body); err != nil {
			return err
		}
	}

	if err := s.store.ApplyEdit(ctx, messageID, body); err != nil {
		return err
	}
	s.publish(ctx, realtime.Change{
		AccountID:      account.ID,
		ConversationID: conv.ID,
		MessageID:      messageID,
		Kind:           realtime.MessageEdited,
		At:             s.now(),
	})
	return nil
}

// Delete tombstones the message locally in every case and revokes it on the
// provider when the backend supports that. Remote failures are logged; the
// local tombstone stands either way.
func (s *Service) Delete(ctx context.Context, messageID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Direction == model.Outbound && msg.Status == model.Pending {
		return provider.NewSendError(provider.ClassValidation, "message_pending",
			"a queued message cannot be deleted before its first send")
	}

	newlySet, err := s.store.Tombstone(ctx, messageID)
	if err != nil {
		return err
	}

	account, conv, err := s.ownerOf(ctx, msg)
	if err != nil {
		return err
	}

	if newlySet && msg.Direction == model.Outbound && msg.ProviderMessageID != "" {
		if deleter, ok := s.registry.DeleterFor(*account); ok {
			if err := deleter.DeleteMessage(ctx, *account, msg.ProviderMessageID); err != nil {
				slog.Warn("remote revoke failed", "message_id", messageID, "error", err)
			}
		}
	}

	if newlySet {
		s.publish(ctx, realtime.Change{
			AccountID:      account.ID,
			ConversationID: conv.ID,
			MessageID:      messageID,
			Kind:           realtime.MessageDeleted,
			At:             s.now(),
		})
	}
	return nil
}

// MarkConversationRead flips the conversation's unread inbound messages to
// read and emits a single conversation-level change when anything flipped.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	n, err := s.store.MarkConversationRead(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, realtime.Change{
			AccountID:      conv.AccountID,
			ConversationID: conversationID,
			Kind:           realtime.ConversationRead,
			At:             s.now(),
		})
	}
	return n, nil
}

// HandleWebhook parses a provider callback and folds its events into the
// store through the reconciler.
func (s *Service) HandleWebhook(ctx context.Context, accountID string, payload []byte) error {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	adapter, err := s.registry.ForAccount(*account)
	if err != nil {
		return err
	}

	events, err := adapter.ParseWebhook(payload)
	if err != nil {
		return provider.NewSendError(provider.ClassValidation, "malformed_webhook", err.Error())
	}
	if len(events) == 0 {
		return nil
	}
	return s.reconciler.Apply(ctx, *account, events)
}

func (s *Service) ownerOf(ctx context.Context, msg *model.Message) (*model.Account, *model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.store.GetAccount(ctx, conv.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return account, conv, nil
}

func (s *Service) publish(ctx context.Context, c realtime.Change) {
	if err := s.broker.Publish(ctx, c); err != nil {
		slog.Warn("failed to publish change", "kind", c.Kind, "message_id", c.MessageID, "error", err)
	}
}
