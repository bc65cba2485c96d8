package scoring

// AuthorityQuorumMet reports whether the voters of the latest authority poll
// held at least requiredPercent of the tenant's current authority.
func AuthorityQuorumMet(voterIDs []string, weights map[string]float64, requiredPercent float64) bool {
	total := 0.0
	for _, weight := range weights {
		total += weight
	}
	if total <= 0 {
		return false
	}

	seen := make(map[string]struct{}, len(voterIDs))
	voted := 0.0
	for _, id := range voterIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		voted += weights[id]
	}
	return voted/total*100 >= requiredPercent
}
