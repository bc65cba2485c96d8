package archive

import (
	"context"
	"log/slog"
	"time"

	"polity/engine/internal/notify"
	"polity/engine/internal/poll"
)

const uploadTimeout = time.Minute

// Sink archives polls when they end.
type Sink struct {
	Writer ObjectWriter
	Logger *slog.Logger
	Now    func() time.Time

	inflight notify.Inflight
}

func (s *Sink) Notify(ctx context.Context, event poll.Event, p poll.Poll) {
	if event != poll.EventEnded || s.Writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	s.inflight.Go(func() {
		defer cancel()
		s.store(ctx, p)
	})
}

func (s *Sink) Wait(ctx context.Context) error {
	return s.inflight.Wait(ctx)
}

func (s *Sink) store(ctx context.Context, p poll.Poll) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	snapshot := SnapshotOf(p, now())

	body, err := encodeSnapshot(snapshot)
	if err == nil {
		err = s.Writer.PutJSON(ctx, ObjectKey(snapshot.TenantID, snapshot.PollID), body)
	}
	if err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("archive poll failed",
			"event", "poll_archive_failed",
			"module", "archive",
			"layer", "sink",
			"poll_id", snapshot.PollID,
			"tenant_id", snapshot.TenantID,
			"error", err.Error(),
		)
	}
}
