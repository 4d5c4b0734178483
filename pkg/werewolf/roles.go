package werewolf

import "math/rand"

// WolfCount returns the number of wolves for a given player count:
// one wolf per three players, but always at least one wolf and at
// least one villager.
func WolfCount(playerCount int) int {
	n := playerCount / 3
	if n < 1 {
		n = 1
	}
	if n > playerCount-1 {
		n = playerCount - 1
	}
	return n
}

// AssignRoles shuffles the player list with the supplied random source and
// assigns wolf to the first WolfCount positions, villager to the rest.
// The caller owns the source; tests pass a fixed seed to get a
// reproducible assignment.
func AssignRoles(playerIDs []string, rng *rand.Rand) map[string]Role {
	shuffled := make([]string, len(playerIDs))
	copy(shuffled, playerIDs)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	wolves := WolfCount(len(shuffled))
	roles := make(map[string]Role, len(shuffled))
	for i, id := range shuffled {
		if i < wolves {
			roles[id] = RoleWolf
		} else {
			roles[id] = RoleVillager
		}
	}
	return roles
}
