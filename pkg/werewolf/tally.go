package werewolf

// Ballot is one voter's designation of a target.
type Ballot struct {
	VoterID  string
	TargetID string
}

// TallyResult is the outcome of counting ballots.
type TallyResult struct {
	// EliminatedID is empty when no one is eliminated (tie or no ballots).
	EliminatedID string
	Counts       map[string]int
}

// Tally counts ballots per target and picks the unique plurality maximum.
// A tie for the top count eliminates no one: ties never produce an
// arbitrary kill. This is a deliberate fairness rule, shared by the day
// vote and the wolves' night designation.
//
// Ballots whose target is not alive are discarded here even though the
// engine validates at cast time; the tally does not trust its caller.
// If a voter appears more than once, the last ballot wins.
func Tally(ballots []Ballot, alive map[string]bool) TallyResult {
	byVoter := make(map[string]string, len(ballots))
	var order []string
	for _, b := range ballots {
		if !alive[b.TargetID] {
			continue
		}
		if _, seen := byVoter[b.VoterID]; !seen {
			order = append(order, b.VoterID)
		}
		byVoter[b.VoterID] = b.TargetID
	}

	counts := make(map[string]int, len(byVoter))
	for _, voter := range order {
		counts[byVoter[voter]]++
	}

	best, bestCount, tied := "", 0, false
	for target, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = target, n, false
		case n == bestCount:
			tied = true
		}
	}
	if tied || bestCount == 0 {
		return TallyResult{Counts: counts}
	}
	return TallyResult{EliminatedID: best, Counts: counts}
}
