// Package notify fans poll lifecycle events out to delivery backends.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"polity/engine/internal/poll"
)

// Sink receives poll lifecycle events. Notify must not block the caller on
// slow delivery and never reports failure back; sinks log their own errors.
type Sink interface {
	Notify(ctx context.Context, event poll.Event, p poll.Poll)
}

// Fanout forwards every event to each configured sink in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, event poll.Event, p poll.Poll) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(ctx, event, p)
		}
	}
}

// Wait blocks until every sink that delivers in the background has drained,
// or ctx ends.
func (f Fanout) Wait(ctx context.Context) error {
	for _, sink := range f {
		if d, ok := sink.(Drainer); ok {
			if err := d.Wait(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Drainer is implemented by sinks that deliver on their own goroutines.
type Drainer interface {
	Wait(ctx context.Context) error
}

// Inflight tracks background deliveries. The zero value is ready to use.
type Inflight struct {
	wg sync.WaitGroup
}

// Go runs fn on a new goroutine counted until it returns.
func (i *Inflight) Go(fn func()) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		fn()
	}()
}

func (i *Inflight) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink records events as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, event poll.Event, p poll.Poll) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meta := p.Info()
	logger.InfoContext(ctx, "poll event",
		"event", "poll_"+string(event),
		"module", "notify",
		"layer", "sink",
		"poll_id", meta.ID,
		"tenant_id", meta.TenantID,
		"poll_kind", string(p.Kind()),
		"result", meta.Result,
	)
}
