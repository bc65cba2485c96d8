// Package scoring turns the votes of an ended poll into its result.
//
// Every function here is pure: callers pass in the votes together with an
// authority snapshot (user id -> authority percent) and persist what comes back.
package scoring

import (
	"math"
	"sort"

	"polity/engine/internal/poll"
)

// MultipleChoiceResult returns the text of the option holding the largest
// authority-weighted share, or poll.ResultUndecided when nobody with authority
// took part or two or more options share the maximum. A vote naming an option
// the poll does not have counts as an abstention.
func MultipleChoiceResult(options []string, votes []poll.Vote, weights map[string]float64) string {
	sums := make(map[int]float64)
	total := 0.0
	for _, vote := range votes {
		if vote.Value < 0 || vote.Value >= len(options) {
			continue
		}
		weight := weights[vote.VoterID]
		sums[vote.Value] += weight
		total += weight
	}
	if total == 0 {
		return poll.ResultUndecided
	}

	indexes := make([]int, 0, len(sums))
	for index := range sums {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	best := -1
	bestShare := math.Inf(-1)
	tied := false
	for _, index := range indexes {
		share := round2(sums[index]/total) * 100
		switch {
		case share > bestShare:
			best, bestShare, tied = index, share, false
		case share == bestShare:
			tied = true
		}
	}
	if tied {
		return poll.ResultUndecided
	}
	return options[best]
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
