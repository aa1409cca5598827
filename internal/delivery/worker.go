// Package delivery drains the outbound queue. The dispatcher claims batches
// on a fixed interval and a bounded worker pool places the provider calls.
// Ordering within a conversation is enforced by the claim query, so workers
// never coordinate with each other.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/realtime"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/store"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/window"
)

type Config struct {
	BatchSize   int
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

type Worker struct {
	cfg      Config
	store    store.Store
	registry *provider.Registry
	window   *window.Engine
	broker   realtime.Broker
	now      func() time.Time
}

func NewWorker(cfg Config, s store.Store, r *provider.Registry, w *window.Engine, b realtime.Broker) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		store:    s,
		registry: r,
		window:   w,
		broker:   b,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock. Tests only.
func (w *Worker) WithNow(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Tick claims one batch and delivers it on the pool. It returns the number
// of messages claimed; individual send failures are absorbed into the
// per-message retry state, never returned.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	msgs, err := w.store.ClaimPending(ctx, w.cfg.BatchSize, w.now())
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Workers)
	for _, m := range msgs {
		m := m
		g.Go(func() error {
			w.deliver(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
	return len(msgs), nil
}

func (w *Worker) deliver(ctx context.Context, m model.Message) {
	conv, err := w.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		w.failed(ctx, nil, m, provider.WrapTransient("conversation_lookup", err))
		return
	}
	account, err := w.store.GetAccount(ctx, conv.AccountID)
	if err != nil {
		w.failed(ctx, nil, m, provider.WrapTransient("account_lookup", err))
		return
	}
	contact, err := w.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		w.failed(ctx, account, m, provider.WrapTransient("contact_lookup", err))
		return
	}
	adapter, err := w.registry.ForAccount(*account)
	if err != nil {
		w.failed(ctx, account, m, provider.NewSendError(provider.ClassValidation, "unknown_provider", err.Error()))
		return
	}

	// The window may have closed while the message sat in the queue. A
	// send-time expiry is a policy failure and does not consume an attempt.
	active, err := w.window.Active(ctx, m.ConversationID)
	if err != nil {
		w.failed(ctx, account, m, provider.WrapTransient("window_lookup", err))
		return
	}
	if account.ProviderKind == model.Official && m.Kind.Freeform() && !active {
		w.failed(ctx, account, m, provider.NewSendError(provider.ClassPolicy, window.CodeWindowExpired,
			"customer-service window closed while the message was queued"))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	providerID, err := adapter.Send(sendCtx, provider.SendInput{
		Account:      *account,
		To:           contact.Phone,
		Message:      m,
		WindowActive: active,
	})
	if err != nil {
		w.failed(ctx, account, m, err)
		return
	}

	if err := w.store.MarkSent(ctx, m.ID, providerID); err != nil {
		slog.Error("failed to persist send confirmation",
			"message_id", m.ID, "provider_message_id", providerID, "error", err)
		return
	}

	slog.Info("message sent",
		"message_id", m.ID, "conversation_id", m.ConversationID, "attempt", m.AttemptCount+1)
	w.publishStatus(ctx, account.ID, m)
}

// failed routes one send failure through the error taxonomy. Transient
// failures with attempts left re-enter the queue with backoff; everything
// else lands in the terminal error state.
func (w *Worker) failed(ctx context.Context, account *model.Account, m model.Message, sendErr error) {
	class := provider.ClassOf(sendErr)
	attempts := m.AttemptCount + 1

	if class == provider.ClassTransient && attempts < w.cfg.MaxAttempts {
		next := w.now().Add(w.backoff(attempts))
		if err := w.store.ScheduleRetry(ctx, m.ID, next); err != nil {
			slog.Error("failed to schedule retry", "message_id", m.ID, "error", err)
			return
		}
		slog.Warn("send failed, retry scheduled",
			"message_id", m.ID, "attempt", attempts, "next_attempt_at", next, "error", sendErr)
		accountID := ""
		if account != nil {
			accountID = account.ID
		}
		w.publishStatus(ctx, accountID, m)
		return
	}

	info := model.ErrorInfo{Code: provider.CodeOf(sendErr), Message: sendErr.Error()}
	consumeAttempt := class != provider.ClassPolicy
	if err := w.store.MarkErrored(ctx, m.ID, info, w.now(), consumeAttempt); err != nil {
		slog.Error("failed to persist send error", "message_id", m.ID, "error", err)
		return
	}

	slog.Warn("message errored",
		"message_id", m.ID, "class", class, "code", info.Code, "attempts", attempts)

	if class == provider.ClassDisconnected && account != nil {
		if err := w.store.SetAccountStatus(ctx, account.ID, model.Disconnected); err != nil {
			slog.Error("failed to flag account disconnected", "account_id", account.ID, "error", err)
		}
	}

	accountID := ""
	if account != nil {
		accountID = account.ID
	}
	w.publishStatus(ctx, accountID, m)
}

func (w *Worker) publishStatus(ctx context.Context, accountID string, m model.Message) {
	err := w.broker.Publish(ctx, realtime.Change{
		AccountID:      accountID,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Kind:           realtime.MessageStatus,
		At:             w.now(),
	})
	if err != nil {
		slog.Warn("failed to publish change", "message_id", m.ID, "error", err)
	}
}

// backoff doubles the base delay per consumed attempt up to the cap.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.BackoffCap {
			return w.cfg.BackoffCap
		}
	}
	if d > w.cfg.BackoffCap {
		return w.cfg.BackoffCap
	}
	return d
}
