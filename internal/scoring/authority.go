package scoring

import "polity/engine/internal/poll"

const (
	// DelegationPoints is what every voter distributes in an authority poll.
	DelegationPoints = 1000
	// PropagationRounds is the number of delegation hops averaged together.
	PropagationRounds = 3
	// MinAuthorityVoters is the participation floor for recomputing authority.
	MinAuthorityVoters = 3
	// BootstrapScore seeds every voter when nobody holds initial authority yet.
	BootstrapScore = 100.0
)

type AuthorityInput struct {
	Votes []poll.Vote
	// ActiveUsers are the non-deleted users of the tenant; every one of them
	// receives a new authority percent.
	ActiveUsers []string
	// InitialWeights holds the onboarding authority used to seed round one.
	InitialWeights map[string]float64
}

type AuthorityOutcome struct {
	Result string
	// Weights is nil when the result is InsufficientParticipation.
	Weights map[string]float64
}

// ComputeAuthority runs the delegated-authority propagation and returns the
// new authority percent of every active user, normalized to sum to 100.
func ComputeAuthority(in AuthorityInput) AuthorityOutcome {
	active := make(map[string]struct{}, len(in.ActiveUsers))
	for _, id := range in.ActiveUsers {
		active[id] = struct{}{}
	}

	votes := make([]poll.Vote, 0, len(in.Votes))
	voters := make([]string, 0)
	seen := make(map[string]struct{})
	for _, vote := range in.Votes {
		target := vote.Target()
		if target == "" || target == vote.VoterID {
			continue
		}
		if _, ok := active[vote.VoterID]; !ok {
			continue
		}
		if _, ok := active[target]; !ok {
			continue
		}
		votes = append(votes, vote)
		if _, ok := seen[vote.VoterID]; !ok {
			seen[vote.VoterID] = struct{}{}
			voters = append(voters, vote.VoterID)
		}
	}
	if len(voters) < MinAuthorityVoters {
		return AuthorityOutcome{Result: poll.ResultInsufficientParticipation}
	}

	scores := make(map[string]float64, len(voters))
	anyPositive := false
	for _, voter := range voters {
		scores[voter] = in.InitialWeights[voter]
		if scores[voter] > 0 {
			anyPositive = true
		}
	}
	if !anyPositive {
		for _, voter := range voters {
			scores[voter] = BootstrapScore
		}
	}

	final := make(map[string]float64, len(in.ActiveUsers))
	for _, id := range in.ActiveUsers {
		final[id] = 0
	}

	for round := 0; round < PropagationRounds; round++ {
		next := make(map[string]float64, len(in.ActiveUsers))
		for _, id := range in.ActiveUsers {
			next[id] = 0
		}
		for _, vote := range votes {
			delegated := scores[vote.VoterID] * float64(vote.Value)
			next[vote.Target()] += delegated / DelegationPoints
			final[vote.Target()] += delegated / (DelegationPoints * PropagationRounds)
		}
		scores = next
	}

	total := 0.0
	for _, score := range final {
		total += score
	}
	if total < 1 {
		total = 1
	}
	weights := make(map[string]float64, len(final))
	for id, score := range final {
		weights[id] = score * 100 / total
	}
	return AuthorityOutcome{Result: poll.ResultCompleted, Weights: weights}
}
