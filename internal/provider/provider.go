// Package provider abstracts the heterogeneous messaging backends behind a
// capability-queryable adapter contract. Callers never branch on the
// provider kind directly; what a backend supports is expressed through the
// Capabilities matrix and the optional Editor/Deleter/Reactor interfaces.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
)

// Capabilities describes what an adapter variant supports at runtime.
type Capabilities struct {
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
	React  bool `json:"react"`

	// WindowRestricted means freeform sends are gated by the 24h
	// customer-service window.
	WindowRestricted bool `json:"windowRestricted"`
}

// SendInput carries everything an adapter needs to place one outbound call.
type SendInput struct {
	Account model.Account
	To      string
	Message model.Message

	// WindowActive is the caller's send-time window evaluation. Adapters
	// that are window-restricted reject freeform sends when it is false.
	WindowActive bool
}

// Adapter is the uniform interface over messaging backends.
type Adapter interface {
	Kind() model.ProviderKind
	Capabilities() Capabilities
	Send(ctx context.Context, in SendInput) (providerMessageID string, err error)
	ParseWebhook(payload []byte) ([]InboundEvent, error)
}

// Editor edits an already-sent message on backends that support it.
type Editor interface {
	EditMessage(ctx context.Context, account model.Account, providerMessageID, body string) error
}

// Deleter revokes an already-sent message on backends that support it.
type Deleter interface {
	DeleteMessage(ctx context.Context, account model.Account, providerMessageID string) error
}

// Reactor sends an emoji reaction on backends that support it.
type Reactor interface {
	React(ctx context.Context, account model.Account, providerMessageID, emoji string) error
}

// EventType classifies a webhook-derived inbound event.
type EventType string

const (
	EventMessage  EventType = "message"
	EventStatus   EventType = "status"
	EventReaction EventType = "reaction"
	EventEdit     EventType = "edit"
	EventDelete   EventType = "delete"
)

// InboundEvent is the generic translation of one provider webhook entry.
type InboundEvent struct {
	Type              EventType
	ProviderMessageID string

	// From is the normalized phone of the external party.
	From     string
	FromName string

	// Message fields, set for EventMessage and EventEdit.
	Kind       model.Kind
	Body       string
	Attachment *model.Attachment

	// Status is set for EventStatus (delivered or read).
	Status model.Status

	// Reaction fields, set for EventReaction. An empty Emoji removes the
	// actor's reaction.
	Emoji string
	Actor string

	OccurredAt time.Time
}

// Registry selects the adapter for an account by its provider kind.
type Registry struct {
	adapters map[model.ProviderKind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.ProviderKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// ForAccount returns the adapter serving the account's provider kind.
func (r *Registry) ForAccount(account model.Account) (Adapter, error) {
	a, ok := r.adapters[account.ProviderKind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider kind %q", account.ProviderKind)
	}
	return a, nil
}

// EditorFor returns the Editor behind the account's adapter when the
// capability is present.
func (r *Registry) EditorFor(account model.Account) (Editor, bool) {
	a, err := r.ForAccount(account)
	if err != nil || !a.Capabilities().Edit {
		return nil, false
	}
	e, ok := a.(Editor)
	return e, ok
}

// DeleterFor returns the Deleter behind the account's adapter when the
// capability is present.
func (r *Registry) DeleterFor(account model.Account) (Deleter, bool) {
	a, err := r.ForAccount(account)
	if err != nil || !a.Capabilities().Delete {
		return nil, false
	}
	d, ok := a.(Deleter)
	return d, ok
}

// ReactorFor returns the Reactor behind the account's adapter when the
// capability is present.
func (r *Registry) ReactorFor(account model.Account) (Reactor, bool) {
	a, err := r.ForAccount(account)
	if err != nil || !a.Capabilities().React {
		return nil, false
	}
	re, ok := a.(Reactor)
	return re, ok
}
