package scoring

import (
	"fmt"
	"strings"

	"polity/engine/internal/poll"
)

// ShareDivisor maps a raw 0-1000 share vote onto 0-100.
const ShareDivisor = 10.0

// ShareResult renders the normalized, authority-weighted share of every option
// as "<option>: <pct>%" lines in declared option order.
func ShareResult(options []string, votes []poll.Vote, weights map[string]float64) string {
	byOption := make(map[string][]poll.Vote, len(options))
	for _, vote := range votes {
		target := vote.Target()
		if target == "" {
			continue
		}
		byOption[target] = append(byOption[target], vote)
	}

	weighted := make([]float64, len(options))
	sum := 0.0
	for i, option := range options {
		weighted[i] = weightedShare(byOption[option], weights)
		sum += weighted[i]
	}
	if sum == 0 {
		sum = 1
	}

	lines := make([]string, len(options))
	for i, option := range options {
		lines[i] = fmt.Sprintf("%s: %.2f%%", option, weighted[i]*100/sum)
	}
	return strings.Join(lines, "\n")
}

// weightedShare keeps the first vote of each voter for the option.
func weightedShare(votes []poll.Vote, weights map[string]float64) float64 {
	seen := make(map[string]struct{}, len(votes))
	numerator, denominator := 0.0, 0.0
	for _, vote := range votes {
		if _, dup := seen[vote.VoterID]; dup {
			continue
		}
		seen[vote.VoterID] = struct{}{}
		weight := weights[vote.VoterID]
		numerator += float64(vote.Value) / ShareDivisor * weight
		denominator += weight
	}
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}
