package model

import (
	"time"

	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// User represents a registered user.
type User struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	ProviderID  string    `json:"provider_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Match is the aggregate root for one run of the game. It is mutated only
// by the match engine and persisted as a whole on every committed
// transition; Version increases by exactly one per commit.
type Match struct {
	ID            string          `json:"id"`
	State         werewolf.Phase  `json:"state"`
	Round         int             `json:"round"`
	PhaseDeadline time.Time       `json:"phase_deadline"`
	Players       []Player        `json:"players"` // insertion order = join order
	Ballots       []Ballot        `json:"ballots,omitempty"`
	NightActions  []Ballot        `json:"night_actions,omitempty"`
	Winner        werewolf.Winner `json:"winner,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Player is a member of a match. Role is empty until the match starts and
// immutable afterwards. Departed players stay in the list (dead) so that
// win-condition evaluation and the audit trail remain consistent.
type Player struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Alive       bool          `json:"alive"`
	Role        werewolf.Role `json:"role,omitempty"`
	Departed    bool          `json:"departed,omitempty"`
	IsBot       bool          `json:"is_bot,omitempty"`
	JoinedAt    time.Time     `json:"joined_at"`
}

// Ballot is one player's vote (or a wolf's night designation) for a round.
// At most one ballot per (voter, round); re-voting replaces the earlier one.
type Ballot struct {
	VoterID  string `json:"voter_id"`
	TargetID string `json:"target_id"`
	Round    int    `json:"round"`
}

// PlayerByID returns the player with the given id, or nil.
func (m *Match) PlayerByID(id string) *Player {
	for i := range m.Players {
		if m.Players[i].ID == id {
			return &m.Players[i]
		}
	}
	return nil
}

// AliveSet returns the ids of living players.
func (m *Match) AliveSet() map[string]bool {
	alive := make(map[string]bool, len(m.Players))
	for _, p := range m.Players {
		if p.Alive {
			alive[p.ID] = true
		}
	}
	return alive
}

// Roles returns the role assignment for all players that have one.
func (m *Match) Roles() map[string]werewolf.Role {
	roles := make(map[string]werewolf.Role, len(m.Players))
	for _, p := range m.Players {
		if p.Role != "" {
			roles[p.ID] = p.Role
		}
	}
	return roles
}

// MatchSnapshot is the externally visible, per-viewer projection of a
// match. Roles of other players are never present; RoleSelf is filled in
// only for the requesting viewer.
type MatchSnapshot struct {
	ID          string          `json:"id"`
	State       werewolf.Phase  `json:"state"`
	Round       int             `json:"round"`
	PhaseEndsAt *time.Time      `json:"phaseEndsAt,omitempty"`
	Players     []PlayerView    `json:"players"`
	Tally       []TallyEntry    `json:"tally,omitempty"`
	Winner      werewolf.Winner `json:"winner,omitempty"`
	Version     int64           `json:"version"`
}

// PlayerView is a player as seen by a specific viewer.
type PlayerView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Alive    bool          `json:"alive"`
	RoleSelf werewolf.Role `json:"roleSelf,omitempty"`
}

// TallyEntry is one target's vote count in the current round.
type TallyEntry struct {
	TargetID string `json:"targetId"`
	Count    int    `json:"count"`
}

// Message represents an in-match chat message. System notices use the
// reserved sender id "system"; RecipientID narrows a message to one player
// (role reveals), empty means public.
type Message struct {
	ID          string    `json:"id"`
	MatchID     string    `json:"match_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// SystemSenderID marks engine-generated chat lines.
const SystemSenderID = "system"
