// Package reconcile folds provider webhook events into the message store.
// Providers redeliver webhooks and deliver them out of order, so every
// application here is idempotent: repeats and regressions become no-ops and
// only real mutations fan out a change notification.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/realtime"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/store"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/window"
)

type Reconciler struct {
	store  store.Store
	window *window.Engine
	broker realtime.Broker
	now    func() time.Time
}

func New(s store.Store, w *window.Engine, b realtime.Broker) *Reconciler {
	return &Reconciler{
		store:  s,
		window: w,
		broker: b,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock. Tests only.
func (r *Reconciler) WithNow(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Apply folds a batch of webhook events for one account. Events that fail
// are skipped so one malformed entry cannot wedge the rest of the batch;
// the joined error is returned for logging.
func (r *Reconciler) Apply(ctx context.Context, account model.Account, events []provider.InboundEvent) error {
	var errs []error
	for _, ev := range events {
		var err error
		switch ev.Type {
		case provider.EventMessage:
			err = r.applyMessage(ctx, account, ev)
		case provider.EventStatus:
			err = r.applyStatus(ctx, account, ev)
		case provider.EventReaction:
			err = r.applyReaction(ctx, account, ev)
		case provider.EventEdit:
			err = r.applyEdit(ctx, account, ev)
		case provider.EventDelete:
			err = r.applyDelete(ctx, account, ev)
		default:
			err = fmt.Errorf("unknown event type %q", ev.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s event for %q: %w", ev.Type, ev.ProviderMessageID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) applyMessage(ctx context.Context, account model.Account, ev provider.InboundEvent) error {
	// Redelivered webhook for a message we already stored.
	if _, err := r.store.GetMessageByProviderID(ctx, ev.ProviderMessageID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	conv, err := r.store.EnsureConversation(ctx, account.ID, ev.From, ev.FromName)
	if err != nil {
		return err
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = r.now()
	}

	msg := &model.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		Direction:         model.Inbound,
		Kind:              ev.Kind,
		Body:              ev.Body,
		Attachment:        ev.Attachment,
		Status:            model.Received,
		ProviderMessageID: ev.ProviderMessageID,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return err
	}
	if err := r.store.TouchInbound(ctx, conv.ID, at); err != nil {
		return err
	}
	r.window.RecordInbound(ctx, conv.ID, at)

	r.publish(ctx, realtime.Change{
		AccountID:      account.ID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Kind:           realtime.MessageCreated,
		At:             at,
	})
	return nil
}

func (r *Reconciler) applyStatus(ctx context.Context, account model.Account, ev provider.InboundEvent) error {
	msg, err := r.store.GetMessageByProviderID(ctx, ev.ProviderMessageID)
	if errors.Is(err, store.ErrNotFound) {
		// A receipt can outrun the send confirmation commit. The provider
		// will redeliver; drop it here.
		slog.Warn("receipt for unknown provider message id",
			"account_id", account.ID, "provider_message_id", ev.ProviderMessageID, "status", ev.Status)
		return nil
	}
	if err != nil {
		return err
	}

	changed, err := r.store.AdvanceStatus(ctx, msg.ID, ev.Status)
	if err != nil {
		return err
	}
	if changed {
		r.publish(ctx, realtime.Change{
			AccountID:      account.ID,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Kind:           realtime.MessageStatus,
			At:             r.now(),
		})
	}
	return nil
}

func (r *Reconciler) applyReaction(ctx context.Context, account model.Account, ev provider.InboundEvent) error {
	msg, err := r.store.GetMessageByProviderID(ctx, ev.ProviderMessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.SetReaction(ctx, msg.ID, ev.Actor, ev.Emoji); err != nil {
		return err
	}
	r.publish(ctx, realtime.Change{
		AccountID:      account.ID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Kind:           realtime.MessageReaction,
		At:             r.now(),
	})
	return nil
}

func (r *Reconciler) applyEdit(ctx context.Context, account model.Account, ev provider.InboundEvent) error {
	msg, err := r.store.GetMessageByProviderID(ctx, ev.ProviderMessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.ApplyEdit(ctx, msg.ID, ev.Body); err != nil {
		return err
	}
	r.publish(ctx, realtime.Change{
		AccountID:      account.ID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Kind:           realtime.MessageEdited,
		At:             r.now(),
	})
	return nil
}

func (r *Reconciler) applyDelete(ctx context.Context, account model.Account, ev provider.InboundEvent) error {
	msg, err := r.store.GetMessageByProviderID(ctx, ev.ProviderMessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	newlySet, err := r.store.Tombstone(ctx, msg.ID)
	if err != nil {
		return err
	}
	if newlySet {
		r.publish(ctx, realtime.Change{
			AccountID:      account.ID,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Kind:           realtime.MessageDeleted,
			At:             r.now(),
		})
	}
	return nil
}

func (r *Reconciler) publish(ctx context.Context, c realtime.Change) {
	if err := r.broker.Publish(ctx, c); err != nil {
		slog.Warn("failed to publish change", "kind", c.Kind, "message_id", c.MessageID, "error", err)
	}
}
