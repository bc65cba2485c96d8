// Package completion decides whether an active poll is finished.
package completion

import "time"

// AboutToEndFraction is the share of the voting window left when the
// about-to-end event fires.
const AboutToEndFraction = 0.3

type Input struct {
	Deadline       time.Time
	Now            time.Time
	EligibleVoters int
	VotedCount     int
	VotingWindow   time.Duration
	// Notified is true once the about-to-end event was emitted for the poll.
	Notified bool
}

type Outcome struct {
	Complete   bool
	AboutToEnd bool
}

// Evaluate completes a poll on quorum (every eligible voter voted) or once its
// deadline has passed. Otherwise it flags the first evaluation that falls
// inside the last 30% of the voting window, counted in whole minutes.
func Evaluate(in Input) Outcome {
	if in.VotedCount == in.EligibleVoters || !in.Now.Before(in.Deadline) {
		return Outcome{Complete: true}
	}
	if in.Notified {
		return Outcome{}
	}
	threshold := int(in.VotingWindow.Minutes() * AboutToEndFraction)
	remaining := int(in.Deadline.Sub(in.Now).Minutes())
	return Outcome{AboutToEnd: remaining > 0 && remaining <= threshold}
}
