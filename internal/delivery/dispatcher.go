package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher drives a tick function on a fixed interval, normally the
// Worker's queue drain. Start and Stop report whether they changed
// anything, so the operational endpoints can answer repeated calls without
// racing.
type Dispatcher struct {
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(interval time.Duration, tickFn func(context.Context)) (*Dispatcher, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Dispatcher{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

func (d *Dispatcher) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)

	go func() {
		defer close(d.done)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		slog.Info("dispatcher started", "interval", d.interval.String())

		d.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("dispatcher stopping")
				return
			case <-ticker.C:
				d.safeTick(ctx)
			}
		}
	}()

	return true
}

func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return false
	}

	d.cancel()
	<-d.done
	d.running.Store(false)

	slog.Info("dispatcher stopped")
	return true
}

func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

func (d *Dispatcher) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher tick panic recovered", "panic", r)
		}
	}()

	d.tickFn(ctx)
}

// DrainFunc adapts the Worker into a Dispatcher tick function.
func DrainFunc(w *Worker) func(context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		claimed, err := w.Tick(ctx)
		if err != nil {
			slog.Error("queue drain failed", "error", err)
			return
		}
		if claimed > 0 {
			slog.Info("queue drained",
				"claimed", claimed, "duration_ms", time.Since(start).Milliseconds())
		}
	}
}
