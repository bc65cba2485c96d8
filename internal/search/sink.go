package search

import (
	"context"
	"log/slog"

	"polity/engine/internal/notify"
	"polity/engine/internal/poll"
)

// Sink indexes every poll as it ends. Other events are ignored.
type Sink struct {
	Indexer Indexer
	Logger  *slog.Logger

	inflight notify.Inflight
}

func (s *Sink) Notify(_ context.Context, event poll.Event, p poll.Poll) {
	if event != poll.EventEnded || s.Indexer == nil || !s.Indexer.Healthy() {
		return
	}
	record := RecordFromPoll(p)
	s.inflight.Go(func() { s.index(record) })
}

func (s *Sink) Wait(ctx context.Context) error {
	return s.inflight.Wait(ctx)
}

func (s *Sink) index(record PollRecord) {
	if err := s.Indexer.IndexPoll(record); err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("index poll failed",
			"event", "search_index_failed",
			"module", "search",
			"layer", "sink",
			"poll_id", record.ID,
			"error", err.Error(),
		)
	}
}
