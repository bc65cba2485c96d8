// Package poll defines the poll variants the completion engine works on.
//
// Poll is a closed set: the four variants below are the only implementations,
// and code that needs per-variant behaviour goes through Visitor so that adding
// a variant breaks the build everywhere it is not handled.
package poll

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindAuthority      Kind = "authority"
	KindMultipleChoice Kind = "multiple_choice"
	KindShare          Kind = "share"
	KindPolicyChange   Kind = "policy_change"
)

// Meta holds the columns shared by every poll variant.
type Meta struct {
	ID                   string
	TenantID             string
	Name                 string
	Question             string
	CreatedAt            time.Time
	Deadline             time.Time
	Active               bool
	Result               string
	Options              []string
	PolicyID             *string
	AboutToEndNotifiedAt *time.Time
}

type Poll interface {
	Info() Meta
	Kind() Kind
	Accept(ctx context.Context, v Visitor) (string, error)
}

// Visitor computes the result string for each poll variant.
type Visitor interface {
	VisitAuthority(ctx context.Context, p AuthorityPoll) (string, error)
	VisitMultipleChoice(ctx context.Context, p MultipleChoicePoll) (string, error)
	VisitShare(ctx context.Context, p SharePoll) (string, error)
	VisitPolicyChange(ctx context.Context, p PolicyChangePoll) (string, error)
}

type AuthorityPoll struct{ Meta }

type MultipleChoicePoll struct{ Meta }

type SharePoll struct{ Meta }

type PolicyChangePoll struct{ Meta }

func (p AuthorityPoll) Info() Meta      { return p.Meta }
func (p MultipleChoicePoll) Info() Meta { return p.Meta }
func (p SharePoll) Info() Meta          { return p.Meta }
func (p PolicyChangePoll) Info() Meta   { return p.Meta }

func (AuthorityPoll) Kind() Kind      { return KindAuthority }
func (MultipleChoicePoll) Kind() Kind { return KindMultipleChoice }
func (SharePoll) Kind() Kind          { return KindShare }
func (PolicyChangePoll) Kind() Kind   { return KindPolicyChange }

func (p AuthorityPoll) Accept(ctx context.Context, v Visitor) (string, error) {
	return v.VisitAuthority(ctx, p)
}

func (p MultipleChoicePoll) Accept(ctx context.Context, v Visitor) (string, error) {
	return v.VisitMultipleChoice(ctx, p)
}

func (p SharePoll) Accept(ctx context.Context, v Visitor) (string, error) {
	return v.VisitShare(ctx, p)
}

func (p PolicyChangePoll) Accept(ctx context.Context, v Visitor) (string, error) {
	return v.VisitPolicyChange(ctx, p)
}

// FromRecord rebuilds the variant for a persisted kind column.
func FromRecord(kind Kind, meta Meta) (Poll, error) {
	switch kind {
	case KindAuthority:
		return AuthorityPoll{Meta: meta}, nil
	case KindMultipleChoice:
		return MultipleChoicePoll{Meta: meta}, nil
	case KindShare:
		return SharePoll{Meta: meta}, nil
	case KindPolicyChange:
		return PolicyChangePoll{Meta: meta}, nil
	default:
		return nil, fmt.Errorf("unknown poll kind %q for poll %s", kind, meta.ID)
	}
}

type Vote struct {
	PollID    string
	VoterID   string
	VotedFor  *string
	Value     int
	CreatedAt time.Time
}

// Target returns the voted-for id, or "" when the vote has none.
func (v Vote) Target() string {
	if v.VotedFor == nil {
		return ""
	}
	return *v.VotedFor
}

// DistinctVoters counts the voters that cast at least one vote.
func DistinctVoters(votes []Vote) int {
	seen := make(map[string]struct{}, len(votes))
	for _, vote := range votes {
		seen[vote.VoterID] = struct{}{}
	}
	return len(seen)
}
