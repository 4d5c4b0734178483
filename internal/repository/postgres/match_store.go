package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/internal/repository"
	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// MatchStore persists match aggregates with optimistic concurrency.
// The aggregate body (players, ballots) lives in a jsonb column; state,
// round, deadline, winner and version are lifted into columns so the
// deadline poller and listings can query without unmarshalling.
type MatchStore struct {
	db *sql.DB
}

// NewMatchStore creates a MatchStore.
func NewMatchStore(db *sql.DB) *MatchStore {
	return &MatchStore{db: db}
}

// matchBody is the jsonb payload for a match row.
type matchBody struct {
	Players      []model.Player `json:"players"`
	Ballots      []model.Ballot `json:"ballots,omitempty"`
	NightActions []model.Ballot `json:"night_actions,omitempty"`
}

// Load returns the match aggregate, or nil if absent.
func (s *MatchStore) Load(ctx context.Context, matchID string) (*model.Match, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches WHERE id = $1`, matchID)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	return m, nil
}

// CommitIfVersion writes the aggregate if the stored version still equals
// expectedVersion. expectedVersion 0 inserts a new match. A failed
// precondition surfaces as repository.ErrVersionConflict.
func (s *MatchStore) CommitIfVersion(ctx context.Context, matchID string, expectedVersion int64, m *model.Match) error {
	body, err := json.Marshal(matchBody{
		Players:      m.Players,
		Ballots:      m.Ballots,
		NightActions: m.NightActions,
	})
	if err != nil {
		return fmt.Errorf("marshal match body: %w", err)
	}

	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO matches (id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			m.ID, string(m.State), m.Round, m.PhaseDeadline, nullStr(string(m.Winner)), body,
			m.Version, m.CreatedAt, m.StartedAt, m.FinishedAt)
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert match rows: %w", err)
		}
		if n == 0 {
			return repository.ErrVersionConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE matches
		 SET state = $2, round = $3, phase_deadline = $4, winner = $5, body = $6,
		     version = $7, started_at = $8, finished_at = $9, updated_at = now()
		 WHERE id = $1 AND version = $10`,
		m.ID, string(m.State), m.Round, m.PhaseDeadline, nullStr(string(m.Winner)), body,
		m.Version, m.StartedAt, m.FinishedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("commit match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit match rows: %w", err)
	}
	if n == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

// ListOpen returns matches still in the lobby, newest first.
func (s *MatchStore) ListOpen(ctx context.Context) ([]model.Match, error) {
	return s.list(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches WHERE state = 'LOBBY' AND retired_at IS NULL
		 ORDER BY created_at DESC LIMIT 50`)
}

// ListByPlayer returns matches the player belongs to, newest first.
func (s *MatchStore) ListByPlayer(ctx context.Context, playerID string) ([]model.Match, error) {
	return s.list(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches
		 WHERE body->'players' @> $1::jsonb
		 ORDER BY created_at DESC LIMIT 50`,
		fmt.Sprintf(`[{"id":%q}]`, playerID))
}

// ListFinished returns ended matches, most recently finished first.
func (s *MatchStore) ListFinished(ctx context.Context) ([]model.Match, error) {
	return s.list(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches WHERE state = 'END'
		 ORDER BY finished_at DESC LIMIT 100`)
}

// ListActive returns matches in a timed phase, for recovery on startup.
func (s *MatchStore) ListActive(ctx context.Context) ([]model.Match, error) {
	return s.list(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches WHERE state IN ('NIGHT', 'DAY', 'VOTE') AND retired_at IS NULL`)
}

// ListExpired returns active matches whose phase deadline has passed.
func (s *MatchStore) ListExpired(ctx context.Context, now time.Time) ([]model.Match, error) {
	return s.list(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches
		 WHERE state IN ('NIGHT', 'DAY', 'VOTE') AND retired_at IS NULL AND phase_deadline < $1`,
		now)
}

// ListEndedBefore returns ended, not yet retired matches that finished
// before the cutoff.
func (s *MatchStore) ListEndedBefore(ctx context.Context, cutoff time.Time) ([]model.Match, error) {
	return s.list(ctx,
		`SELECT id, state, round, phase_deadline, winner, body, version, created_at, started_at, finished_at
		 FROM matches
		 WHERE state = 'END' AND retired_at IS NULL AND finished_at < $1`,
		cutoff)
}

// MarkRetired flags a match as retired from the registry. The row stays
// queryable for audit.
func (s *MatchStore) MarkRetired(ctx context.Context, matchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET retired_at = now() WHERE id = $1 AND retired_at IS NULL`, matchID)
	if err != nil {
		return fmt.Errorf("mark retired: %w", err)
	}
	return nil
}

func (s *MatchStore) list(ctx context.Context, query string, args ...any) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*model.Match, error) {
	var m model.Match
	var state string
	var winner sql.NullString
	var body []byte
	if err := row.Scan(&m.ID, &state, &m.Round, &m.PhaseDeadline, &winner, &body,
		&m.Version, &m.CreatedAt, &m.StartedAt, &m.FinishedAt); err != nil {
		return nil, err
	}
	m.State = werewolf.Phase(state)
	m.Winner = werewolf.Winner(winner.String)

	var b matchBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("unmarshal match body: %w", err)
	}
	m.Players = b.Players
	m.Ballots = b.Ballots
	m.NightActions = b.NightActions
	return &m, nil
}
