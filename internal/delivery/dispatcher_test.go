package delivery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitForAtLeast(t *testing.T, calls *atomic.Int64, n int64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if calls.Load() >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for calls >= %d (got %d)", n, calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewDispatcher_InvalidArgs(t *testing.T) {
	t.Parallel()

	if d, err := NewDispatcher(0, func(context.Context) {}); err == nil || d != nil {
		t.Fatalf("expected error for zero interval, got %v %v", d, err)
	}
	if d, err := NewDispatcher(100*time.Millisecond, nil); err == nil || d != nil {
		t.Fatalf("expected error for nil tick function, got %v %v", d, err)
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	var calls atomic.Int64

	d, err := NewDispatcher(10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	if d.IsRunning() {
		t.Fatalf("expected dispatcher not running initially")
	}
	if ok := d.Start(); !ok {
		t.Fatalf("expected Start() true on first call")
	}
	if ok := d.Start(); ok {
		t.Fatalf("expected Start() false while running")
	}

	// Start fires an immediate tick before the first interval elapses.
	waitForAtLeast(t, &calls, 1, 500*time.Millisecond)

	if ok := d.Stop(); !ok {
		t.Fatalf("expected Stop() true on first call")
	}
	if ok := d.Stop(); ok {
		t.Fatalf("expected Stop() false when already stopped")
	}

	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Fatalf("expected no ticks after Stop; before=%d after=%d", before, after)
	}
}

func TestDispatcher_PanicInTickIsRecovered(t *testing.T) {
	var calls atomic.Int64
	var panicked atomic.Bool

	d, err := NewDispatcher(10*time.Millisecond, func(context.Context) {
		if panicked.CompareAndSwap(false, true) {
			panic("boom")
		}
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	if ok := d.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	defer d.Stop()

	waitForAtLeast(t, &calls, 1, 750*time.Millisecond)
}

func TestDispatcher_TickContextCanceledOnStop(t *testing.T) {
	captured := make(chan context.Context, 1)

	d, err := NewDispatcher(10*time.Millisecond, func(ctx context.Context) {
		select {
		case captured <- ctx:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	if ok := d.Start(); !ok {
		t.Fatalf("expected Start() true")
	}

	var ctx context.Context
	select {
	case ctx = <-captured:
	case <-time.After(500 * time.Millisecond):
		d.Stop()
		t.Fatalf("did not capture tick context in time")
	}

	if ok := d.Stop(); !ok {
		t.Fatalf("expected Stop() true")
	}

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected tick context canceled after Stop()")
	}
}
