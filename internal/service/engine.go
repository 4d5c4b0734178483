package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/internal/repository"
	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// maxCommitRetries bounds the reload-and-reapply loop on optimistic-commit
// conflicts. Under the single-writer discipline a conflict should never
// happen; when it does it is logged as a defect and retried anyway.
const maxCommitRetries = 3

// PhaseDurations configures the timed phases.
type PhaseDurations struct {
	Night time.Duration
	Day   time.Duration
	Vote  time.Duration
}

// Engine owns the authoritative state of every match. All commands for one
// match run strictly one at a time under the match's registry lock;
// commands for different matches proceed in parallel. The engine is the
// only writer of the match aggregate.
type Engine struct {
	store       repository.MatchStore
	cache       repository.MatchCache
	notifier    Notifier
	broadcaster Broadcaster
	durations   PhaseDurations
	locks       registry

	// newRand supplies the random source for role assignment and bot
	// choices. Injected so tests can pin a seed; production seeds from
	// the clock per call, never reusing a seed across matches.
	newRand func() *rand.Rand

	// botDelay spaces out scripted bot actions after a phase opens.
	botDelay time.Duration
}

// NewEngine creates an Engine.
func NewEngine(store repository.MatchStore, cache repository.MatchCache, notifier Notifier, broadcaster Broadcaster, durations PhaseDurations) *Engine {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &Engine{
		store:       store,
		cache:       cache,
		notifier:    notifier,
		broadcaster: broadcaster,
		durations:   durations,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		botDelay: 2 * time.Second,
	}
}

// SetRandSource overrides the random source factory (tests).
func (e *Engine) SetRandSource(f func() *rand.Rand) { e.newRand = f }

// SetBotDelay overrides the bot action delay (tests).
func (e *Engine) SetBotDelay(d time.Duration) { e.botDelay = d }

// event is a WebSocket event emitted after a successful commit.
type event struct {
	typ  string
	data any
}

// effects accumulates side effects during a command and is applied only
// after the new snapshot is durably committed.
type effects struct {
	notices       []string
	privates      []privateNotice
	events        []event
	deadline      *time.Time
	clearDeadline bool
	retire        bool
}

type privateNotice struct {
	playerID string
	text     string
}

func (fx *effects) notify(text string)           { fx.notices = append(fx.notices, text) }
func (fx *effects) emit(typ string, data any)    { fx.events = append(fx.events, event{typ: typ, data: data}) }
func (fx *effects) setDeadline(t time.Time)      { fx.deadline = &t }
func (fx *effects) reveal(playerID, text string) {
	fx.privates = append(fx.privates, privateNotice{playerID: playerID, text: text})
}

// CreateMatch creates a new lobby with a generated id, joins the creator,
// and optionally seeds it with scripted bot players.
func (e *Engine) CreateMatch(ctx context.Context, playerID, displayName string, bots int) (*model.Match, error) {
	matchID := uuid.NewString()
	m, err := e.CreateOrJoin(ctx, matchID, playerID, displayName)
	if err != nil {
		return nil, err
	}
	if bots > werewolf.MaxPlayers-1 {
		bots = werewolf.MaxPlayers - 1
	}
	for i := 0; i < bots; i++ {
		m, err = e.addBot(ctx, matchID, i)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CreateOrJoin joins an existing lobby, creating the match if absent.
func (e *Engine) CreateOrJoin(ctx context.Context, matchID, playerID, displayName string) (*model.Match, error) {
	return e.apply(ctx, matchID, true, func(m *model.Match, fx *effects) error {
		return joinPlayer(m, fx, model.Player{
			ID:          playerID,
			DisplayName: displayName,
			Alive:       true,
			JoinedAt:    time.Now().UTC(),
		})
	})
}

// botNames seeds lobby bots, matching the original fixtures.
var botNames = []string{"Alice", "Bob", "Charlie", "Diane", "Emile", "Fanny", "Gaspard", "Hugo", "Inès", "Jules", "Karim"}

func (e *Engine) addBot(ctx context.Context, matchID string, n int) (*model.Match, error) {
	name := fmt.Sprintf("Bot %d", n+1)
	if n < len(botNames) {
		name = botNames[n]
	}
	return e.apply(ctx, matchID, false, func(m *model.Match, fx *effects) error {
		return joinPlayer(m, fx, model.Player{
			ID:          "bot-" + uuid.NewString(),
			DisplayName: name,
			Alive:       true,
			IsBot:       true,
			JoinedAt:    time.Now().UTC(),
		})
	})
}

func joinPlayer(m *model.Match, fx *effects, p model.Player) error {
	if m.State != werewolf.PhaseLobby {
		return ErrAlreadyStarted
	}
	if m.PlayerByID(p.ID) != nil {
		return ErrAlreadyJoined
	}
	if len(m.Players) >= werewolf.MaxPlayers {
		return ErrMatchFull
	}
	m.Players = append(m.Players, p)
	fx.emit("player_joined", map[string]any{"player_id": p.ID, "name": p.DisplayName})
	return nil
}

// Start assigns roles and opens the first night. Fails with
// ErrInvalidTransition once the match has left the lobby, so callers can
// tell "already started" from success.
func (e *Engine) Start(ctx context.Context, matchID, requesterID string) (*model.Match, error) {
	return e.apply(ctx, matchID, false, func(m *model.Match, fx *effects) error {
		if m.State != werewolf.PhaseLobby {
			return ErrInvalidTransition
		}
		if m.PlayerByID(requesterID) == nil {
			return ErrNotAMember
		}
		if len(m.Players) < werewolf.MinPlayers {
			return ErrNotEnoughPlayers
		}

		ids := make([]string, len(m.Players))
		for i, p := range m.Players {
			ids[i] = p.ID
		}
		roles := werewolf.AssignRoles(ids, e.newRand())
		for i := range m.Players {
			m.Players[i].Role = roles[m.Players[i].ID]
		}

		now := time.Now().UTC()
		m.StartedAt = &now
		m.Round = 1
		m.State = werewolf.PhaseNight
		m.PhaseDeadline = now.Add(e.durations.Night)

		fx.setDeadline(m.PhaseDeadline)
		fx.notify("Night falls over the village. The wolves are choosing their prey.")
		for _, p := range m.Players {
			if p.Role == werewolf.RoleWolf {
				fx.reveal(p.ID, "You are a werewolf.")
			} else {
				fx.reveal(p.ID, "You are a villager.")
			}
		}
		fx.emit("match_started", map[string]any{"round": m.Round})
		fx.emit("phase_changed", phaseData(m))
		return nil
	})
}

// NightAction records a living wolf's designation for the current night.
// When every living wolf has designated, the night resolves immediately.
func (e *Engine) NightAction(ctx context.Context, matchID, wolfID, targetID string) (*model.Match, error) {
	return e.apply(ctx, matchID, false, func(m *model.Match, fx *effects) error {
		if m.State != werewolf.PhaseNight {
			return ErrWrongPhase
		}
		wolf := m.PlayerByID(wolfID)
		if wolf == nil {
			return ErrNotAMember
		}
		if !wolf.Alive {
			return ErrNotAlive
		}
		if wolf.Role != werewolf.RoleWolf {
			return ErrNotAWolf
		}
		if wolfID == targetID {
			return ErrSelfTarget
		}
		target := m.PlayerByID(targetID)
		if target == nil || !target.Alive {
			return ErrTargetNotAlive
		}

		upsertBallot(&m.NightActions, model.Ballot{VoterID: wolfID, TargetID: targetID, Round: m.Round})

		if allWolvesActed(m) {
			e.resolveNight(m, fx, time.Now().UTC())
		}
		return nil
	})
}

// CastVote upserts a living player's ballot for the current round. A later
// ballot from the same voter replaces the earlier one until the vote
// closes. When every living player has voted, the vote resolves
// immediately within the same commit.
func (e *Engine) CastVote(ctx context.Context, matchID, voterID, targetID string, round int) (*model.Match, error) {
	return e.apply(ctx, matchID, false, func(m *model.Match, fx *effects) error {
		if m.State != werewolf.PhaseVote {
			return ErrInvalidTransition
		}
		voter := m.PlayerByID(voterID)
		if voter == nil {
			return ErrNotAMember
		}
		if !voter.Alive {
			return ErrNotAlive
		}
		if round != m.Round {
			return ErrWrongRound
		}
		if voterID == targetID {
			return ErrSelfTarget
		}
		target := m.PlayerByID(targetID)
		if target == nil || !target.Alive {
			return ErrTargetNotAlive
		}

		upsertBallot(&m.Ballots, model.Ballot{VoterID: voterID, TargetID: targetID, Round: m.Round})
		fx.emit("vote_cast", map[string]any{"voter_id": voterID, "ballots": len(m.Ballots)})

		if allAliveVoted(m) {
			e.resolveVote(m, fx, time.Now().UTC())
		}
		return nil
	})
}

// Leave removes a player from a lobby, or marks them departed after the
// start. A departed player counts as eliminated for the win condition; a
// ballot they cast earlier in the round still stands.
func (e *Engine) Leave(ctx context.Context, matchID, playerID string) (*model.Match, error) {
	return e.apply(ctx, matchID, false, func(m *model.Match, fx *effects) error {
		p := m.PlayerByID(playerID)
		if p == nil || p.Departed {
			return ErrNotAMember
		}

		if m.State == werewolf.PhaseLobby {
			for i := range m.Players {
				if m.Players[i].ID == playerID {
					m.Players = append(m.Players[:i], m.Players[i+1:]...)
					break
				}
			}
			fx.emit("player_left", map[string]any{"player_id": playerID})
			if len(m.Players) == 0 {
				// Abandoned lobby: retire it, snapshot stays for audit.
				fx.retire = true
				fx.clearDeadline = true
			}
			return nil
		}

		p.Departed = true
		wasAlive := p.Alive
		p.Alive = false
		fx.emit("player_left", map[string]any{"player_id": playerID})

		if m.State == werewolf.PhaseEnd || !wasAlive {
			return nil
		}
		fx.notify(p.DisplayName + " left the village.")
		if winner, over := werewolf.EvaluateWin(m.Roles(), m.AliveSet()); over {
			e.finish(m, fx, winner, time.Now().UTC())
		}
		return nil
	})
}

// AdvancePhase moves an active match past its expired deadline. It is the
// clock's entry point and idempotent: if the phase already advanced (or
// the deadline has not passed), nothing is committed and the current
// snapshot is returned unchanged.
func (e *Engine) AdvancePhase(ctx context.Context, matchID string) (*model.Match, error) {
	return e.apply(ctx, matchID, false, func(m *model.Match, fx *effects) error {
		if !m.State.Timed() {
			return errNoOp
		}
		now := time.Now().UTC()
		if now.Before(m.PhaseDeadline) {
			return errNoOp
		}

		switch m.State {
		case werewolf.PhaseNight:
			e.resolveNight(m, fx, now)
		case werewolf.PhaseDay:
			m.State = werewolf.PhaseVote
			m.PhaseDeadline = now.Add(e.durations.Vote)
			fx.setDeadline(m.PhaseDeadline)
			fx.notify("The village gathers to vote. Who is the wolf?")
			fx.emit("phase_changed", phaseData(m))
		case werewolf.PhaseVote:
			e.resolveVote(m, fx, now)
		}
		return nil
	})
}

// Retire removes an ended or abandoned match from the registry: live data
// is deleted, the per-match lock is dropped, and the store row is flagged.
// The terminal snapshot remains queryable.
func (e *Engine) Retire(ctx context.Context, matchID string) error {
	mu := e.locks.lock(matchID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.MarkRetired(ctx, matchID); err != nil {
		return err
	}
	if err := e.cache.DeleteMatchData(ctx, matchID); err != nil {
		log.Warn().Err(err).Str("matchId", matchID).Msg("Failed to delete cached match data")
	}
	e.locks.forget(matchID)
	log.Info().Str("matchId", matchID).Msg("Match retired")
	return nil
}

// Snapshot returns the viewer-redacted projection of a match, preferring
// the cache and falling back to the durable store.
func (e *Engine) Snapshot(ctx context.Context, matchID, viewerID string) (*model.MatchSnapshot, error) {
	if raw, err := e.cache.GetSnapshot(ctx, matchID); err == nil && raw != nil {
		var m model.Match
		if err := json.Unmarshal(raw, &m); err == nil {
			return Project(&m, viewerID), nil
		}
		log.Warn().Str("matchId", matchID).Msg("Cached snapshot unreadable, falling back to store")
	}
	m, err := e.store.Load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return Project(m, viewerID), nil
}

// ListMatches returns open matches, the player's matches, or finished ones.
func (e *Engine) ListMatches(ctx context.Context, playerID, filter string) ([]model.MatchSnapshot, error) {
	var (
		matches []model.Match
		err     error
	)
	switch filter {
	case "my":
		matches, err = e.store.ListByPlayer(ctx, playerID)
	case "finished":
		matches, err = e.store.ListFinished(ctx)
	default:
		matches, err = e.store.ListOpen(ctx)
	}
	if err != nil {
		return nil, err
	}
	snapshots := make([]model.MatchSnapshot, 0, len(matches))
	for i := range matches {
		snapshots = append(snapshots, *Project(&matches[i], playerID))
	}
	return snapshots, nil
}

// RecoverActiveMatches rehydrates Redis state for all active matches from
// the durable store. Called on startup so deadlines survive a restart;
// matches whose deadline already passed are picked up by the poller.
func (e *Engine) RecoverActiveMatches(ctx context.Context) error {
	matches, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active matches: %w", err)
	}
	if len(matches) == 0 {
		log.Info().Msg("No active matches to recover")
		return nil
	}
	log.Info().Int("count", len(matches)).Msg("Recovering active matches after restart")

	for i := range matches {
		m := &matches[i]
		raw, err := json.Marshal(m)
		if err != nil {
			log.Error().Err(err).Str("matchId", m.ID).Msg("Failed to marshal match during recovery")
			continue
		}
		if err := e.cache.SetSnapshot(ctx, m.ID, raw); err != nil {
			log.Error().Err(err).Str("matchId", m.ID).Msg("Failed to restore cached snapshot")
			continue
		}
		if time.Now().Before(m.PhaseDeadline) {
			if err := e.cache.SetDeadline(ctx, m.ID, m.PhaseDeadline); err != nil {
				log.Error().Err(err).Str("matchId", m.ID).Msg("Failed to restore deadline timer")
			}
		}
		log.Info().Str("matchId", m.ID).Str("state", string(m.State)).
			Int("round", m.Round).Time("deadline", m.PhaseDeadline).
			Msg("Recovered match state")
	}
	return nil
}

// --- internals ---

// apply runs one command against a match under its registry lock:
// load, integrity check, mutate, bump version, optimistic commit. Side
// effects fire only after the commit succeeds. A conflict triggers a
// bounded reload-and-reapply; it is also logged, since with a single
// writer it should be impossible.
func (e *Engine) apply(ctx context.Context, matchID string, allowCreate bool, cmd func(*model.Match, *effects) error) (*model.Match, error) {
	mu := e.locks.lock(matchID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		m, err := e.store.Load(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			if !allowCreate {
				return nil, ErrMatchNotFound
			}
			m = &model.Match{
				ID:        matchID,
				State:     werewolf.PhaseLobby,
				CreatedAt: time.Now().UTC(),
			}
		} else if err := checkIntegrity(m); err != nil {
			return nil, err
		}

		fx := &effects{}
		if err := cmd(m, fx); err != nil {
			if errors.Is(err, errNoOp) {
				return m, nil
			}
			return nil, err
		}

		expected := m.Version
		m.Version++
		if err := e.store.CommitIfVersion(ctx, matchID, expected, m); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				log.Warn().Str("matchId", matchID).Int64("expectedVersion", expected).
					Msg("Commit conflict on single-writer match, reloading")
				continue
			}
			return nil, err
		}

		e.applyEffects(ctx, m, fx)
		return m, nil
	}
	return nil, ErrCommitContention
}

// applyEffects performs post-commit side effects: cache refresh, timers,
// chat notices, broadcasts, bot scheduling. All best effort.
func (e *Engine) applyEffects(ctx context.Context, m *model.Match, fx *effects) {
	if raw, err := json.Marshal(m); err == nil {
		if err := e.cache.SetSnapshot(ctx, m.ID, raw); err != nil {
			log.Warn().Err(err).Str("matchId", m.ID).Msg("Failed to refresh cached snapshot")
		}
	}

	if fx.clearDeadline {
		if err := e.cache.ClearDeadline(ctx, m.ID); err != nil {
			log.Warn().Err(err).Str("matchId", m.ID).Msg("Failed to clear deadline timer")
		}
	}
	if fx.deadline != nil {
		if err := e.cache.SetDeadline(ctx, m.ID, *fx.deadline); err != nil {
			log.Warn().Err(err).Str("matchId", m.ID).Msg("Failed to set deadline timer")
		}
	}

	for _, text := range fx.notices {
		e.notifier.Notify(ctx, m.ID, text)
	}
	for _, pn := range fx.privates {
		e.notifier.NotifyPlayer(ctx, m.ID, pn.playerID, pn.text)
	}
	for _, ev := range fx.events {
		e.broadcaster.BroadcastMatchEvent(m.ID, ev.typ, ev.data)
	}

	if fx.retire {
		if err := e.store.MarkRetired(ctx, m.ID); err != nil {
			log.Warn().Err(err).Str("matchId", m.ID).Msg("Failed to mark match retired")
		}
		if err := e.cache.DeleteMatchData(ctx, m.ID); err != nil {
			log.Warn().Err(err).Str("matchId", m.ID).Msg("Failed to delete cached match data")
		}
	}

	// A freshly opened night or vote phase wakes the scripted bots.
	if fx.deadline != nil && (m.State == werewolf.PhaseNight || m.State == werewolf.PhaseVote) {
		e.scheduleBotActions(m)
	}
}

// resolveNight applies the wolves' designation, evaluates the win
// condition, and opens the day (or ends the match).
func (e *Engine) resolveNight(m *model.Match, fx *effects, now time.Time) {
	res := werewolf.Tally(roundBallots(m.NightActions, m.Round), m.AliveSet())
	if res.EliminatedID != "" {
		victim := m.PlayerByID(res.EliminatedID)
		victim.Alive = false
		fx.notify(victim.DisplayName + " was devoured during the night.")
	} else {
		fx.notify("The sun rises. No one died tonight.")
	}

	if winner, over := werewolf.EvaluateWin(m.Roles(), m.AliveSet()); over {
		e.finish(m, fx, winner, now)
		return
	}

	m.State = werewolf.PhaseDay
	m.PhaseDeadline = now.Add(e.durations.Day)
	fx.setDeadline(m.PhaseDeadline)
	fx.emit("phase_changed", phaseData(m))
}

// resolveVote tallies the day vote, applies the elimination, evaluates the
// win condition, and either ends the match or opens the next night. The
// RESOLUTION step is immediate: it never persists as a state of its own.
func (e *Engine) resolveVote(m *model.Match, fx *effects, now time.Time) {
	res := werewolf.Tally(roundBallots(m.Ballots, m.Round), m.AliveSet())
	if res.EliminatedID != "" {
		victim := m.PlayerByID(res.EliminatedID)
		victim.Alive = false
		fx.notify(victim.DisplayName + " was eliminated by the village.")
	} else {
		fx.notify("The vote is tied. No one is eliminated.")
	}

	if winner, over := werewolf.EvaluateWin(m.Roles(), m.AliveSet()); over {
		e.finish(m, fx, winner, now)
		return
	}

	m.Round++
	m.Ballots = nil
	m.NightActions = nil
	m.State = werewolf.PhaseNight
	m.PhaseDeadline = now.Add(e.durations.Night)
	fx.setDeadline(m.PhaseDeadline)
	fx.notify("Night falls over the village. The wolves are choosing their prey.")
	fx.emit("phase_changed", phaseData(m))
}

// finish moves the match to its terminal state.
func (e *Engine) finish(m *model.Match, fx *effects, winner werewolf.Winner, now time.Time) {
	m.State = werewolf.PhaseEnd
	m.Winner = winner
	m.FinishedAt = &now
	fx.clearDeadline = true
	if winner == werewolf.WinnerWolves {
		fx.notify("The wolves have taken the village. The wolves win.")
	} else {
		fx.notify("The last wolf is dead. The villagers win.")
	}
	fx.emit("match_ended", map[string]any{"winner": string(winner)})
}

// checkIntegrity rejects snapshots that violate structural invariants.
// A failure here is programmer error; the match refuses to proceed rather
// than attempt repair.
func checkIntegrity(m *model.Match) error {
	if m.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrCorruptMatch, m.Version)
	}
	if m.State != werewolf.PhaseLobby {
		if len(m.Players) < werewolf.MinPlayers || len(m.Players) > werewolf.MaxPlayers {
			return fmt.Errorf("%w: %d players in state %s", ErrCorruptMatch, len(m.Players), m.State)
		}
		wolves := 0
		for _, p := range m.Players {
			switch p.Role {
			case werewolf.RoleWolf:
				wolves++
			case werewolf.RoleVillager:
			default:
				return fmt.Errorf("%w: player %s has no role in state %s", ErrCorruptMatch, p.ID, m.State)
			}
		}
		if wolves == 0 && m.State != werewolf.PhaseEnd {
			return fmt.Errorf("%w: no wolves assigned", ErrCorruptMatch)
		}
	}
	if (m.Winner != "") != (m.State == werewolf.PhaseEnd) {
		return fmt.Errorf("%w: winner %q in state %s", ErrCorruptMatch, m.Winner, m.State)
	}
	return nil
}

func phaseData(m *model.Match) map[string]any {
	return map[string]any{
		"state":    string(m.State),
		"round":    m.Round,
		"deadline": m.PhaseDeadline.Format(time.RFC3339),
	}
}

// upsertBallot replaces the voter's existing ballot for the round, or
// appends a new one.
func upsertBallot(ballots *[]model.Ballot, b model.Ballot) {
	for i := range *ballots {
		if (*ballots)[i].VoterID == b.VoterID && (*ballots)[i].Round == b.Round {
			(*ballots)[i] = b
			return
		}
	}
	*ballots = append(*ballots, b)
}

func roundBallots(ballots []model.Ballot, round int) []werewolf.Ballot {
	out := make([]werewolf.Ballot, 0, len(ballots))
	for _, b := range ballots {
		if b.Round == round {
			out = append(out, werewolf.Ballot{VoterID: b.VoterID, TargetID: b.TargetID})
		}
	}
	return out
}

// allWolvesActed reports whether every living wolf has designated a target
// this round.
func allWolvesActed(m *model.Match) bool {
	acted := make(map[string]bool, len(m.NightActions))
	for _, b := range m.NightActions {
		if b.Round == m.Round {
			acted[b.VoterID] = true
		}
	}
	for _, p := range m.Players {
		if p.Alive && p.Role == werewolf.RoleWolf && !acted[p.ID] {
			return false
		}
	}
	return true
}

// allAliveVoted reports whether every living player has a ballot this round.
func allAliveVoted(m *model.Match) bool {
	voted := make(map[string]bool, len(m.Ballots))
	for _, b := range m.Ballots {
		if b.Round == m.Round {
			voted[b.VoterID] = true
		}
	}
	for _, p := range m.Players {
		if p.Alive && !voted[p.ID] {
			return false
		}
	}
	return true
}
