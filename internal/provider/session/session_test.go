package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
)

func TestSend_NoWindowRestriction(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messageId":"sess-1"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "tok")

	// WindowActive=false must not matter for the session variant.
	id, err := a.Send(context.Background(), provider.SendInput{
		Account:      model.Account{ProviderKind: model.Unofficial},
		To:           "+5511999990000",
		Message:      model.Message{Kind: model.KindText, Body: "oi"},
		WindowActive: false,
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if id != "sess-1" {
		t.Fatalf("expected sess-1, got %q", id)
	}
}

func TestSend_MediaFields(t *testing.T) {
	t.Parallel()

	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messageId":"sess-2"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "tok")

	_, err := a.Send(context.Background(), provider.SendInput{
		To: "+551",
		Message: model.Message{
			Kind: model.KindDocument,
			Body: "orçamento",
			Attachment: &model.Attachment{
				URL:      "https://files.example/doc.pdf",
				Mime:     "application/pdf",
				Filename: "doc.pdf",
			},
		},
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	var req sendRequest
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}
	if req.MediaURL != "https://files.example/doc.pdf" || req.Mime != "application/pdf" || req.Filename != "doc.pdf" {
		t.Fatalf("unexpected media fields: %+v", req)
	}
}

func TestSend_DisconnectedOn401(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"session closed"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "tok")

	_, err := a.Send(context.Background(), provider.SendInput{
		To:      "+551",
		Message: model.Message{Kind: model.KindText, Body: "oi"},
	})
	if provider.ClassOf(err) != provider.ClassDisconnected {
		t.Fatalf("expected disconnected class, got %v", err)
	}
}

func TestCapabilities_FullSurface(t *testing.T) {
	t.Parallel()

	caps := New("http://unused", "tok").Capabilities()
	if !caps.Edit || !caps.Delete || !caps.React {
		t.Fatalf("session adapter must support edit/delete/react: %+v", caps)
	}
	if caps.WindowRestricted {
		t.Fatalf("session adapter must not be window restricted")
	}
}

func TestEditDeleteReact_HitExpectedPaths(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "tok")
	acct := model.Account{ProviderKind: model.Unofficial}
	ctx := context.Background()

	if err := a.EditMessage(ctx, acct, "m-9", "novo texto"); err != nil {
		t.Fatalf("EditMessage() error: %v", err)
	}
	if err := a.DeleteMessage(ctx, acct, "m-9"); err != nil {
		t.Fatalf("DeleteMessage() error: %v", err)
	}
	if err := a.React(ctx, acct, "m-9", "🔥"); err != nil {
		t.Fatalf("React() error: %v", err)
	}

	want := []string{"/messages/m-9/edit", "/messages/m-9/revoke", "/messages/m-9/react"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], paths[i])
		}
	}
}

func TestParseWebhook_EventKinds(t *testing.T) {
	t.Parallel()

	a := New("http://unused", "tok")

	cases := []struct {
		name    string
		payload string
		check   func(t *testing.T, events []provider.InboundEvent)
	}{
		{
			name:    "inbound text message",
			payload: `{"event":"message","messageId":"s1","phone":"5511988887777","name":"Ana","kind":"text","body":"olá","timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 1 || events[0].Type != provider.EventMessage {
					t.Fatalf("unexpected events: %+v", events)
				}
				if events[0].Body != "olá" || events[0].From != "5511988887777" {
					t.Fatalf("unexpected message event: %+v", events[0])
				}
			},
		},
		{
			name:    "ack 2 is delivered",
			payload: `{"event":"ack","messageId":"s2","ack":2,"timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 1 || events[0].Status != model.Delivered {
					t.Fatalf("unexpected events: %+v", events)
				}
			},
		},
		{
			name:    "ack 3 is read",
			payload: `{"event":"ack","messageId":"s2","ack":3,"timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 1 || events[0].Status != model.Read {
					t.Fatalf("unexpected events: %+v", events)
				}
			},
		},
		{
			name:    "ack 1 echo is dropped",
			payload: `{"event":"ack","messageId":"s2","ack":1,"timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 0 {
					t.Fatalf("expected no events for server echo, got %+v", events)
				}
			},
		},
		{
			name:    "reaction",
			payload: `{"event":"reaction","messageId":"s3","emoji":"👍","actor":"5511988887777","timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 1 || events[0].Type != provider.EventReaction || events[0].Emoji != "👍" {
					t.Fatalf("unexpected events: %+v", events)
				}
			},
		},
		{
			name:    "edit",
			payload: `{"event":"edit","messageId":"s4","body":"corrigido","timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 1 || events[0].Type != provider.EventEdit || events[0].Body != "corrigido" {
					t.Fatalf("unexpected events: %+v", events)
				}
			},
		},
		{
			name:    "revoke",
			payload: `{"event":"revoke","messageId":"s5","timestamp":1767225600}`,
			check: func(t *testing.T, events []provider.InboundEvent) {
				if len(events) != 1 || events[0].Type != provider.EventDelete {
					t.Fatalf("unexpected events: %+v", events)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			events, err := a.ParseWebhook([]byte(tc.payload))
			if err != nil {
				t.Fatalf("ParseWebhook() error: %v", err)
			}
			tc.check(t, events)
		})
	}
}

func TestParseWebhook_MissingTimestampLeavesOccurredAtZero(t *testing.T) {
	t.Parallel()

	a := New("http://unused", "tok")

	payload := `{"event":"message","messageId":"s9","phone":"5511988887777","body":"sem hora"}`
	events, err := a.ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatalf("ParseWebhook() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}
	// The epoch must never become a window anchor.
	if !events[0].OccurredAt.IsZero() {
		t.Fatalf("expected zero OccurredAt without a timestamp, got %v", events[0].OccurredAt)
	}
}

func TestParseWebhook_UnknownEvent(t *testing.T) {
	t.Parallel()

	a := New("http://unused", "tok")
	if _, err := a.ParseWebhook([]byte(`{"event":"presence"}`)); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}
