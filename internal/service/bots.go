package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// scheduleBotActions queues the scripted moves for every living bot in a
// freshly opened night or vote phase. Bots act after a short delay so the
// phase never resolves before human clients even render it. Each action
// re-runs through the normal command path, so a bot racing a phase change
// just gets a guard error, logged at debug and dropped.
func (e *Engine) scheduleBotActions(m *model.Match) {
	state := m.State
	round := m.Round
	var moves []botMove
	switch state {
	case werewolf.PhaseNight:
		moves = planNightMoves(m, e.newRand())
	case werewolf.PhaseVote:
		moves = planVoteMoves(m, e.newRand())
	default:
		return
	}
	if len(moves) == 0 {
		return
	}

	matchID := m.ID
	delay := e.botDelay
	go func() {
		for i, mv := range moves {
			time.Sleep(delay + time.Duration(i)*delay/2)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			var err error
			if state == werewolf.PhaseNight {
				_, err = e.NightAction(ctx, matchID, mv.actorID, mv.targetID)
			} else {
				_, err = e.CastVote(ctx, matchID, mv.actorID, mv.targetID, round)
			}
			cancel()
			if err != nil && !errors.Is(err, ErrWrongPhase) && !errors.Is(err, ErrInvalidTransition) {
				log.Debug().Err(err).Str("matchId", matchID).Str("botId", mv.actorID).
					Str("state", string(state)).Msg("Bot action rejected")
			}
		}
	}()
}

type botMove struct {
	actorID  string
	targetID string
}

// planNightMoves picks a victim for each living wolf bot. Wolf bots
// always spare their packmates.
func planNightMoves(m *model.Match, rng interface{ Intn(int) int }) []botMove {
	var prey []string
	for _, p := range m.Players {
		if p.Alive && p.Role != werewolf.RoleWolf {
			prey = append(prey, p.ID)
		}
	}
	if len(prey) == 0 {
		return nil
	}
	var moves []botMove
	for _, p := range m.Players {
		if p.IsBot && p.Alive && p.Role == werewolf.RoleWolf {
			moves = append(moves, botMove{actorID: p.ID, targetID: prey[rng.Intn(len(prey))]})
		}
	}
	return moves
}

// planVoteMoves picks a random living target for each living bot.
func planVoteMoves(m *model.Match, rng interface{ Intn(int) int }) []botMove {
	var moves []botMove
	for _, p := range m.Players {
		if !p.IsBot || !p.Alive {
			continue
		}
		candidates := aliveOthers(m, p.ID)
		if len(candidates) == 0 {
			continue
		}
		moves = append(moves, botMove{actorID: p.ID, targetID: candidates[rng.Intn(len(candidates))]})
	}
	return moves
}

func aliveOthers(m *model.Match, selfID string) []string {
	var out []string
	for _, p := range m.Players {
		if p.Alive && p.ID != selfID {
			out = append(out, p.ID)
		}
	}
	return out
}
