package werewolf

// EvaluateWin checks the win condition over the current living players.
// Villagers win the moment no wolf is alive; wolves win when they equal
// or outnumber the living villagers. Returns false when the match goes on.
func EvaluateWin(roles map[string]Role, alive map[string]bool) (Winner, bool) {
	wolves, villagers := 0, 0
	for id, role := range roles {
		if !alive[id] {
			continue
		}
		if role == RoleWolf {
			wolves++
		} else {
			villagers++
		}
	}
	if wolves == 0 {
		return WinnerVillagers, true
	}
	if wolves >= villagers {
		return WinnerWolves, true
	}
	return "", false
}
