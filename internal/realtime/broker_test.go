package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func recvChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()

	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
		return Change{}
	}
}

func TestHub_PublishReachesAccountSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ctx := context.Background()

	a1, cancel1, err := h.Subscribe(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel1()

	a2, cancel2, err := h.Subscribe(ctx, "acc-2")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel2()

	want := Change{AccountID: "acc-1", ConversationID: "conv-1", MessageID: "msg-1", Kind: MessageStatus}
	if err := h.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := recvChange(t, a1)
	if got.MessageID != "msg-1" || got.Kind != MessageStatus {
		t.Fatalf("unexpected change %+v", got)
	}

	select {
	case c := <-a2:
		t.Fatalf("subscriber for another account received %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ctx := context.Background()

	ch, cancel, err := h.Subscribe(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if err := h.Publish(ctx, Change{AccountID: "acc-1"}); err != nil {
		t.Fatalf("Publish() after cancel error: %v", err)
	}
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ctx := context.Background()

	_, cancel, err := h.Subscribe(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = h.Publish(ctx, Change{AccountID: "acc-1", Kind: MessageCreated})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestRedisBroker_RoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBroker(rdb)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	want := Change{
		AccountID:      "acc-1",
		ConversationID: "conv-9",
		MessageID:      "msg-9",
		Kind:           MessageDeleted,
		At:             time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := b.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := recvChange(t, ch)
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestStreamHandler_ForwardsChanges(t *testing.T) {
	t.Parallel()

	h := NewHub()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/accounts/{accountID}/stream", StreamHandler(h))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/accounts/acc-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	// The upgrade races the hub registration; retry until a frame lands.
	deadline := time.Now().Add(2 * time.Second)
	got := make(chan Change, 1)
	go func() {
		var c Change
		if err := conn.ReadJSON(&c); err == nil {
			got <- c
		}
	}()

	for time.Now().Before(deadline) {
		_ = h.Publish(context.Background(), Change{AccountID: "acc-1", MessageID: "msg-1", Kind: MessageCreated})
		select {
		case c := <-got:
			if c.MessageID != "msg-1" || c.Kind != MessageCreated {
				t.Fatalf("unexpected frame %+v", c)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("no frame received over the websocket")
}
