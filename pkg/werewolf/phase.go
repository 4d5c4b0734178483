// Package werewolf implements the pure rules of the Loup-Garou game:
// role distribution, vote tallying, and win-condition evaluation.
// It holds no state and performs no I/O; the match engine drives it.
package werewolf

// Phase is a match lifecycle state.
type Phase string

const (
	PhaseLobby Phase = "LOBBY"
	PhaseNight Phase = "NIGHT"
	PhaseDay   Phase = "DAY"
	PhaseVote  Phase = "VOTE"
	// PhaseResolution exists for wire compatibility with older clients.
	// The engine resolves votes inside the commit that closes VOTE, so no
	// stored snapshot ever carries this state.
	PhaseResolution Phase = "RESOLUTION"
	PhaseEnd        Phase = "END"
)

// Timed reports whether the phase runs against a deadline.
func (p Phase) Timed() bool {
	switch p {
	case PhaseNight, PhaseDay, PhaseVote:
		return true
	}
	return false
}

// Role is a player's faction.
type Role string

const (
	RoleWolf     Role = "wolf"
	RoleVillager Role = "villager"
)

// Winner identifies the faction that won a finished match.
type Winner string

const (
	WinnerWolves    Winner = "wolves"
	WinnerVillagers Winner = "villagers"
)

// Membership bounds for a match.
const (
	MinPlayers = 4
	MaxPlayers = 12
)
