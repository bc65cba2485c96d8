// Package app ticks the scheduler passes for the worker process.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"polity/engine/internal/scheduler"
)

const DefaultInterval = time.Minute

// Job is one periodic pass. Run must be safe to call while a previous call
// from another replica is still in progress.
type Job struct {
	Name string
	Run  func(ctx context.Context) (scheduler.Report, error)
}

// Worker runs each job on its own ticker until the context ends.
type Worker struct {
	Jobs     []Job
	Interval time.Duration
	Logger   *slog.Logger
}

// Run fires every job once immediately and then on every tick. It returns
// when ctx is cancelled; failed passes are logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var wg sync.WaitGroup
	for _, job := range w.Jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			w.loop(ctx, job, interval)
		}(job)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, job Job, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.RunOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes a single pass and logs its outcome.
func (w *Worker) RunOnce(ctx context.Context, job Job) {
	logger := ResolveLogger(w.Logger)
	started := time.Now()

	report, err := job.Run(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		attrs := []any{
			"event", job.Name + "_failed",
			"module", "app",
			"layer", "worker",
			"error", err.Error(),
		}
		var jobErr *scheduler.JobError
		if errors.As(err, &jobErr) {
			attrs = append(attrs, "op", jobErr.Op, "tenant_id", jobErr.TenantID, "poll_id", jobErr.PollID)
		}
		logger.Error("scheduler pass failed", attrs...)
		return
	}
	if report.Skipped {
		return
	}
	logger.Debug("scheduler pass completed",
		"event", job.Name+"_completed",
		"module", "app",
		"layer", "worker",
		"processed_count", report.Processed,
		"completed_count", report.Completed,
		"started_count", report.Started,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}
