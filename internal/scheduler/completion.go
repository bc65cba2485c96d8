// Package scheduler runs the periodic passes that close finished polls and
// open the recurring authority poll.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polity/engine/internal/completion"
	"polity/engine/internal/lock"
	"polity/engine/internal/notify"
	"polity/engine/internal/poll"
	"polity/engine/internal/scoring"
)

const DefaultLockWait = time.Second

type Report struct {
	// Skipped is set when another pass held the lock.
	Skipped    bool
	Processed  int
	Completed  int
	AboutToEnd int
	Started    int
}

// CompletionScheduler closes polls that are finished and writes their results.
type CompletionScheduler struct {
	Polls     PollStore
	Authority AuthorityStore
	Policies  PolicyStore
	Settings  Settings
	Locker    lock.Locker
	Notifier  notify.Sink
	Clock     Clock
	LockWait  time.Duration
	Logger    *slog.Logger
}

func (s *CompletionScheduler) RunCompletionPass(ctx context.Context) (Report, error) {
	logger := resolveLogger(s.Logger)
	wait := s.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}

	lease, ok, err := s.Locker.TryAcquire(ctx, wait)
	if err != nil {
		return Report{}, jobError(JobCompletion, "acquire lock", pollRef{}, err)
	}
	if !ok {
		logger.Info("poll completion pass skipped",
			"event", "poll_completion_skipped",
			"module", logModule,
			"layer", "worker",
		)
		return Report{Skipped: true}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release completion lock failed",
				"event", "poll_completion_lock_release_failed",
				"module", logModule,
				"layer", "worker",
				"error", err.Error(),
			)
		}
	}()

	now := resolveClock(s.Clock).Now()
	var report Report

	// polls ended by an earlier pass that failed before storing the result
	unresolved, err := s.Polls.GetUnresolvedPolls(ctx)
	if err != nil {
		return Report{}, jobError(JobCompletion, "list unresolved polls", pollRef{}, err)
	}
	for _, p := range unresolved {
		if err := s.completePoll(ctx, p, p.Info().Deadline); err != nil {
			return report, err
		}
		report.Processed++
		report.Completed++
	}

	polls, err := s.Polls.GetActivePolls(ctx)
	if err != nil {
		return report, jobError(JobCompletion, "list active polls", pollRef{}, err)
	}
	for _, p := range polls {
		if err := s.processPoll(ctx, p, now, &report); err != nil {
			return report, err
		}
		report.Processed++
	}

	if report.Completed > 0 || report.AboutToEnd > 0 {
		logger.Info("poll completion pass finished",
			"event", "poll_completion_completed",
			"module", logModule,
			"layer", "worker",
			"processed_count", report.Processed,
			"completed_count", report.Completed,
			"about_to_end_count", report.AboutToEnd,
		)
	}
	return report, nil
}

func (s *CompletionScheduler) processPoll(ctx context.Context, p poll.Poll, now time.Time, report *Report) error {
	meta := p.Info()
	ref := pollRef{TenantID: meta.TenantID, PollID: meta.ID}

	eligible, err := s.eligibleVoters(ctx, p)
	if err != nil {
		return jobError(JobCompletion, "count eligible voters", ref, err)
	}
	voted, err := s.Polls.CountDistinctVoters(ctx, meta.ID)
	if err != nil {
		return jobError(JobCompletion, "count voters", ref, err)
	}
	window, err := s.Settings.VotingDuration(ctx, meta.TenantID)
	if err != nil {
		return jobError(JobCompletion, "read voting duration", ref, err)
	}

	outcome := completion.Evaluate(completion.Input{
		Deadline:       meta.Deadline,
		Now:            now,
		EligibleVoters: eligible,
		VotedCount:     voted,
		VotingWindow:   window,
		Notified:       meta.AboutToEndNotifiedAt != nil,
	})

	switch {
	case outcome.Complete:
		if err := s.completePoll(ctx, p, now); err != nil {
			return err
		}
		report.Completed++
	case outcome.AboutToEnd:
		if err := s.Polls.MarkAboutToEnd(ctx, meta.ID, now); err != nil {
			return jobError(JobCompletion, "mark about to end", ref, err)
		}
		s.notify(ctx, poll.EventAboutToEnd, p)
		report.AboutToEnd++
	}
	return nil
}

// eligibleVoters is every confirmed member for an authority poll and every
// authority holder for the other kinds.
func (s *CompletionScheduler) eligibleVoters(ctx context.Context, p poll.Poll) (int, error) {
	tenantID := p.Info().TenantID
	if p.Kind() == poll.KindAuthority {
		return s.Authority.CountConfirmedUsers(ctx, tenantID)
	}
	return s.Authority.CountVoters(ctx, tenantID)
}

// completePoll ends p at endedAt and stores its result. EndPoll and SetResult
// are both no-ops on a second call, so a poll ended by a failed pass can be
// finished again.
func (s *CompletionScheduler) completePoll(ctx context.Context, p poll.Poll, endedAt time.Time) error {
	meta := p.Info()
	ref := pollRef{TenantID: meta.TenantID, PollID: meta.ID}

	votes, err := s.Polls.GetVotesFor(ctx, meta.ID)
	if err != nil {
		return jobError(JobCompletion, "load votes", ref, err)
	}
	if err := s.Polls.EndPoll(ctx, meta.ID, endedAt); err != nil {
		return jobError(JobCompletion, "end poll", ref, err)
	}

	result, err := p.Accept(ctx, &resultVisitor{scheduler: s, votes: votes})
	if err != nil {
		return jobError(JobCompletion, "compute result", ref, err)
	}
	if err := s.Polls.SetResult(ctx, meta.ID, result); err != nil {
		return jobError(JobCompletion, "set result", ref, err)
	}

	meta.Active = false
	meta.Deadline = endedAt
	meta.Result = result
	ended, err := poll.FromRecord(p.Kind(), meta)
	if err != nil {
		return jobError(JobCompletion, "rebuild poll", ref, err)
	}
	s.notify(ctx, poll.EventEnded, ended)
	return nil
}

func (s *CompletionScheduler) notify(ctx context.Context, event poll.Event, p poll.Poll) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, event, p)
	}
}

// authorityQuorum applies the gate for non-authority polls against the
// tenant's most recent ended authority poll.
func (s *CompletionScheduler) authorityQuorum(ctx context.Context, tenantID string, weights map[string]float64) (bool, error) {
	last, err := s.Polls.LatestEndedAuthorityPoll(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("load latest authority poll: %w", err)
	}
	if last == nil {
		return false, nil
	}
	votes, err := s.Polls.GetVotesFor(ctx, last.Info().ID)
	if err != nil {
		return false, fmt.Errorf("load authority poll votes: %w", err)
	}
	required, err := s.Settings.RequiredAuthorityPercentage(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("read required authority percentage: %w", err)
	}

	voterIDs := make([]string, 0, len(votes))
	for _, vote := range votes {
		voterIDs = append(voterIDs, vote.VoterID)
	}
	return scoring.AuthorityQuorumMet(voterIDs, weights, required), nil
}

type resultVisitor struct {
	scheduler *CompletionScheduler
	votes     []poll.Vote
}

func (v *resultVisitor) VisitAuthority(ctx context.Context, p poll.AuthorityPoll) (string, error) {
	authority := v.scheduler.Authority
	active, err := authority.ActiveUserIDs(ctx, p.TenantID)
	if err != nil {
		return "", fmt.Errorf("list active users: %w", err)
	}
	initial, err := authority.GetInitialAuthorityWeights(ctx, p.TenantID)
	if err != nil {
		return "", fmt.Errorf("load initial authority: %w", err)
	}

	outcome := scoring.ComputeAuthority(scoring.AuthorityInput{
		Votes:          v.votes,
		ActiveUsers:    active,
		InitialWeights: initial,
	})
	if outcome.Weights != nil {
		if err := authority.SetAuthorityWeights(ctx, p.TenantID, outcome.Weights); err != nil {
			return "", fmt.Errorf("store authority: %w", err)
		}
	}
	return outcome.Result, nil
}

func (v *resultVisitor) VisitMultipleChoice(ctx context.Context, p poll.MultipleChoicePoll) (string, error) {
	weights, passed, err := v.gate(ctx, p.TenantID)
	if err != nil {
		return "", err
	}
	if !passed {
		return poll.ResultInsufficientAuthority, nil
	}
	return scoring.MultipleChoiceResult(p.Options, v.votes, weights), nil
}

func (v *resultVisitor) VisitShare(ctx context.Context, p poll.SharePoll) (string, error) {
	weights, passed, err := v.gate(ctx, p.TenantID)
	if err != nil {
		return "", err
	}
	if !passed {
		return poll.ResultInsufficientAuthority, nil
	}
	return scoring.ShareResult(p.Options, v.votes, weights), nil
}

// VisitPolicyChange applies the vote to the linked policy even when the poll
// result is withheld for lack of authority quorum.
func (v *resultVisitor) VisitPolicyChange(ctx context.Context, p poll.PolicyChangePoll) (string, error) {
	weights, passed, err := v.gate(ctx, p.TenantID)
	if err != nil {
		return "", err
	}
	outcome := scoring.PolicyChangeResult(v.votes, weights)

	if p.PolicyID != nil {
		policies := v.scheduler.Policies
		if outcome.Accept {
			err = policies.AcceptPolicy(ctx, *p.PolicyID)
		} else {
			err = policies.RejectPolicy(ctx, *p.PolicyID)
		}
		if err != nil {
			return "", fmt.Errorf("apply policy %s: %w", *p.PolicyID, err)
		}
	}

	if !passed {
		return poll.ResultInsufficientAuthority, nil
	}
	return outcome.Result, nil
}

// gate returns a snapshot of the tenant's authority and whether the quorum
// gate passes for it.
func (v *resultVisitor) gate(ctx context.Context, tenantID string) (map[string]float64, bool, error) {
	weights, err := v.scheduler.Authority.GetAuthorityWeights(ctx, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("load authority: %w", err)
	}
	passed, err := v.scheduler.authorityQuorum(ctx, tenantID, weights)
	if err != nil {
		return nil, false, err
	}
	return weights, passed, nil
}
