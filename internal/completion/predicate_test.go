package completion

import (
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour // about-to-end threshold: 432 minutes

	cases := []struct {
		name string
		in   Input
		want Outcome
	}{
		{
			name: "quorum before deadline",
			in:   Input{Deadline: now.Add(10 * time.Hour), Now: now, EligibleVoters: 3, VotedCount: 3, VotingWindow: window},
			want: Outcome{Complete: true},
		},
		{
			name: "deadline passed without votes",
			in:   Input{Deadline: now.Add(-time.Minute), Now: now, EligibleVoters: 3, VotedCount: 0, VotingWindow: window},
			want: Outcome{Complete: true},
		},
		{
			name: "deadline reached exactly",
			in:   Input{Deadline: now, Now: now, EligibleVoters: 5, VotedCount: 1, VotingWindow: window},
			want: Outcome{Complete: true},
		},
		{
			name: "plenty of time left",
			in:   Input{Deadline: now.Add(20 * time.Hour), Now: now, EligibleVoters: 5, VotedCount: 1, VotingWindow: window},
			want: Outcome{},
		},
		{
			name: "threshold minute",
			in:   Input{Deadline: now.Add(432 * time.Minute), Now: now, EligibleVoters: 5, VotedCount: 1, VotingWindow: window},
			want: Outcome{AboutToEnd: true},
		},
		{
			name: "missed threshold minute still fires",
			in:   Input{Deadline: now.Add(300 * time.Minute), Now: now, EligibleVoters: 5, VotedCount: 1, VotingWindow: window},
			want: Outcome{AboutToEnd: true},
		},
		{
			name: "already notified",
			in:   Input{Deadline: now.Add(300 * time.Minute), Now: now, EligibleVoters: 5, VotedCount: 1, VotingWindow: window, Notified: true},
			want: Outcome{},
		},
		{
			name: "less than a minute left",
			in:   Input{Deadline: now.Add(30 * time.Second), Now: now, EligibleVoters: 5, VotedCount: 1, VotingWindow: window},
			want: Outcome{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.in); got != tc.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tc.want)
			}
		})
	}
}
