package provider

import (
	"context"
	"testing"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
)

type fakeAdapter struct {
	kind model.ProviderKind
	caps Capabilities
}

func (f *fakeAdapter) Kind() model.ProviderKind   { return f.kind }
func (f *fakeAdapter) Capabilities() Capabilities { return f.caps }
func (f *fakeAdapter) Send(context.Context, SendInput) (string, error) {
	return "", nil
}
func (f *fakeAdapter) ParseWebhook([]byte) ([]InboundEvent, error) {
	return nil, nil
}

type fakeEditingAdapter struct {
	fakeAdapter
}

func (f *fakeEditingAdapter) EditMessage(context.Context, model.Account, string, string) error {
	return nil
}

func TestRegistry_ForAccount(t *testing.T) {
	t.Parallel()

	official := &fakeAdapter{kind: model.Official}
	unofficial := &fakeAdapter{kind: model.Unofficial}
	r := NewRegistry(official, unofficial)

	a, err := r.ForAccount(model.Account{ProviderKind: model.Unofficial})
	if err != nil {
		t.Fatalf("ForAccount() error: %v", err)
	}
	if a != Adapter(unofficial) {
		t.Fatalf("expected unofficial adapter, got %v", a)
	}

	if _, err := r.ForAccount(model.Account{ProviderKind: "telegram"}); err == nil {
		t.Fatalf("expected error for unregistered provider kind")
	}
}

func TestRegistry_CapabilityGatedAccessors(t *testing.T) {
	t.Parallel()

	// Implements Editor but does not advertise the capability.
	hidden := &fakeEditingAdapter{fakeAdapter{kind: model.Official}}
	// Advertises edit and implements Editor.
	editing := &fakeEditingAdapter{fakeAdapter{kind: model.Unofficial, caps: Capabilities{Edit: true}}}

	r := NewRegistry(hidden, editing)

	if _, ok := r.EditorFor(model.Account{ProviderKind: model.Official}); ok {
		t.Fatalf("capability off: EditorFor must return false even when the interface is implemented")
	}
	if _, ok := r.EditorFor(model.Account{ProviderKind: model.Unofficial}); !ok {
		t.Fatalf("capability on: expected an editor")
	}
	if _, ok := r.DeleterFor(model.Account{ProviderKind: model.Unofficial}); ok {
		t.Fatalf("delete capability off: expected no deleter")
	}
}
