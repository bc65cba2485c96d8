package scheduler

import (
	"context"
	"time"

	"polity/engine/internal/poll"
	"polity/engine/internal/store"
)

type PollStore interface {
	GetActivePolls(ctx context.Context) ([]poll.Poll, error)
	GetUnresolvedPolls(ctx context.Context) ([]poll.Poll, error)
	EndPoll(ctx context.Context, pollID string, at time.Time) error
	SetResult(ctx context.Context, pollID, result string) error
	GetVotesFor(ctx context.Context, pollID string) ([]poll.Vote, error)
	CountDistinctVoters(ctx context.Context, pollID string) (int, error)
	MarkAboutToEnd(ctx context.Context, pollID string, at time.Time) error
	LatestEndedAuthorityPoll(ctx context.Context, tenantID string) (poll.Poll, error)
}

// AuthorityPollStore is the slice of the poll store the authority poll
// scheduler needs.
type AuthorityPollStore interface {
	ListTenants(ctx context.Context) ([]store.Tenant, error)
	LatestEndedAuthorityPoll(ctx context.Context, tenantID string) (poll.Poll, error)
	GetPollsSince(ctx context.Context, tenantID string, since time.Time) ([]poll.Poll, error)
	CountPolls(ctx context.Context, tenantID string, kind poll.Kind) (int, error)
	AddPoll(ctx context.Context, p poll.Poll) error
}

type AuthorityStore interface {
	GetAuthorityWeights(ctx context.Context, tenantID string) (map[string]float64, error)
	SetAuthorityWeights(ctx context.Context, tenantID string, weights map[string]float64) error
	GetInitialAuthorityWeights(ctx context.Context, tenantID string) (map[string]float64, error)
	ActiveUserIDs(ctx context.Context, tenantID string) ([]string, error)
	CountConfirmedUsers(ctx context.Context, tenantID string) (int, error)
	CountVoters(ctx context.Context, tenantID string) (int, error)
}

type PolicyStore interface {
	AcceptPolicy(ctx context.Context, policyID string) error
	RejectPolicy(ctx context.Context, policyID string) error
}

// Settings is implemented by settings.Provider.
type Settings interface {
	VotingDuration(ctx context.Context, tenantID string) (time.Duration, error)
	VotingFrequency(ctx context.Context, tenantID string) (time.Duration, error)
	RequiredAuthorityPercentage(ctx context.Context, tenantID string) (float64, error)
	Language(ctx context.Context, tenantID string) (string, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func resolveClock(clock Clock) Clock {
	if clock == nil {
		return systemClock{}
	}
	return clock
}
