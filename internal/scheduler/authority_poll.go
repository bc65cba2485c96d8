package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polity/engine/internal/lock"
	"polity/engine/internal/notify"
	"polity/engine/internal/poll"
	"polity/engine/internal/util"
)

var authorityPollNames = map[string]string{
	"en": "Authority Poll",
	"de": "Autoritätsumfrage",
	"fr": "Sondage d'autorité",
}

// AuthorityPollName is the localized display name of the n-th authority poll.
func AuthorityPollName(language string, n int) string {
	name, ok := authorityPollNames[language]
	if !ok {
		name = authorityPollNames["en"]
	}
	return fmt.Sprintf("%s #%d", name, n)
}

// AuthorityPollScheduler opens a new authority poll once the tenant's voting
// frequency has elapsed since the previous one ended.
type AuthorityPollScheduler struct {
	Polls    AuthorityPollStore
	Settings Settings
	Locker   lock.Locker
	Notifier notify.Sink
	Clock    Clock
	LockWait time.Duration
	Logger   *slog.Logger
}

func (s *AuthorityPollScheduler) RunAuthorityPollStartPass(ctx context.Context) (Report, error) {
	logger := resolveLogger(s.Logger)
	wait := s.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}

	lease, ok, err := s.Locker.TryAcquire(ctx, wait)
	if err != nil {
		return Report{}, jobError(JobAuthorityPoll, "acquire lock", pollRef{}, err)
	}
	if !ok {
		logger.Info("authority poll pass skipped",
			"event", "authority_poll_start_skipped",
			"module", logModule,
			"layer", "worker",
		)
		return Report{Skipped: true}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release authority poll lock failed",
				"event", "authority_poll_lock_release_failed",
				"module", logModule,
				"layer", "worker",
				"error", err.Error(),
			)
		}
	}()

	tenants, err := s.Polls.ListTenants(ctx)
	if err != nil {
		return Report{}, jobError(JobAuthorityPoll, "list tenants", pollRef{}, err)
	}

	now := resolveClock(s.Clock).Now()
	var report Report
	for _, tenant := range tenants {
		started, err := s.startForTenant(ctx, tenant.ID, now)
		if err != nil {
			return report, err
		}
		report.Processed++
		if started != nil {
			report.Started++
			logger.Info("authority poll started",
				"event", "authority_poll_started",
				"module", logModule,
				"layer", "worker",
				"tenant_id", tenant.ID,
				"poll_id", started.Info().ID,
			)
		}
	}
	return report, nil
}

// startForTenant returns the created poll, or nil when none was due.
func (s *AuthorityPollScheduler) startForTenant(ctx context.Context, tenantID string, now time.Time) (poll.Poll, error) {
	ref := pollRef{TenantID: tenantID}

	last, err := s.Polls.LatestEndedAuthorityPoll(ctx, tenantID)
	if err != nil {
		return nil, jobError(JobAuthorityPoll, "load latest authority poll", ref, err)
	}
	if last == nil {
		return nil, nil
	}

	frequency, err := s.Settings.VotingFrequency(ctx, tenantID)
	if err != nil {
		return nil, jobError(JobAuthorityPoll, "read voting frequency", ref, err)
	}
	nextStart := last.Info().Deadline.Add(frequency)
	if now.Before(nextStart) {
		return nil, nil
	}

	upcoming, err := s.Polls.GetPollsSince(ctx, tenantID, nextStart)
	if err != nil {
		return nil, jobError(JobAuthorityPoll, "list recent polls", ref, err)
	}
	for _, p := range upcoming {
		if p.Kind() == poll.KindAuthority {
			return nil, nil
		}
	}

	count, err := s.Polls.CountPolls(ctx, tenantID, poll.KindAuthority)
	if err != nil {
		return nil, jobError(JobAuthorityPoll, "count authority polls", ref, err)
	}
	language, err := s.Settings.Language(ctx, tenantID)
	if err != nil {
		return nil, jobError(JobAuthorityPoll, "read language", ref, err)
	}
	duration, err := s.Settings.VotingDuration(ctx, tenantID)
	if err != nil {
		return nil, jobError(JobAuthorityPoll, "read voting duration", ref, err)
	}

	created := poll.AuthorityPoll{Meta: poll.Meta{
		ID:        util.NewID("poll"),
		TenantID:  tenantID,
		Name:      AuthorityPollName(language, count+1),
		CreatedAt: now,
		Deadline:  now.Add(duration),
		Active:    true,
	}}
	if err := s.Polls.AddPoll(ctx, created); err != nil {
		ref.PollID = created.ID
		return nil, jobError(JobAuthorityPoll, "add authority poll", ref, err)
	}
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, poll.EventStarted, created)
	}
	return created, nil
}
