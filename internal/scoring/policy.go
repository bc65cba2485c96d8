package scoring

import "polity/engine/internal/poll"

// AcceptThreshold is the positive share (percent) a policy change needs.
const AcceptThreshold = 50.0

type PolicyOutcome struct {
	Result string
	Accept bool
}

// PolicyChangeResult weighs +1/-1 votes by authority. A poll nobody with
// authority voted in yields InsufficientAuthority and rejects the policy.
func PolicyChangeResult(votes []poll.Vote, weights map[string]float64) PolicyOutcome {
	total, positive := 0.0, 0.0
	for _, vote := range votes {
		if vote.Value == 0 {
			continue
		}
		weight := weights[vote.VoterID]
		total += weight
		if vote.Value > 0 {
			positive += weight
		}
	}
	if total == 0 {
		return PolicyOutcome{Result: poll.ResultInsufficientAuthority}
	}
	if positive/total*100 >= AcceptThreshold {
		return PolicyOutcome{Result: poll.ResultPositive, Accept: true}
	}
	return PolicyOutcome{Result: poll.ResultNegative}
}
