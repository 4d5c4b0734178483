package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbellot/loup-garou/internal/model"
)

// ErrVersionConflict is returned by MatchStore.CommitIfVersion when the
// stored version no longer matches the expected one. Under the engine's
// single-writer discipline this indicates a defect, not a routine race.
var ErrVersionConflict = errors.New("match version conflict")

// UserRepository defines user data operations.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByProviderID(ctx context.Context, provider, providerID string) (*model.User, error)
	Upsert(ctx context.Context, provider, providerID, displayName, avatarURL string) (*model.User, error)
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

// MatchStore is the durable snapshot store for match aggregates.
// Load returns (nil, nil) when the match does not exist. CommitIfVersion
// performs an optimistic-concurrency write: expectedVersion 0 creates the
// match, any other value updates it only if the stored version matches.
type MatchStore interface {
	Load(ctx context.Context, matchID string) (*model.Match, error)
	CommitIfVersion(ctx context.Context, matchID string, expectedVersion int64, m *model.Match) error
	ListOpen(ctx context.Context) ([]model.Match, error)
	ListByPlayer(ctx context.Context, playerID string) ([]model.Match, error)
	ListFinished(ctx context.Context) ([]model.Match, error)
	ListActive(ctx context.Context) ([]model.Match, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Match, error)
	ListEndedBefore(ctx context.Context, cutoff time.Time) ([]model.Match, error)
	MarkRetired(ctx context.Context, matchID string) error
}

// MatchCache defines live match state operations (Redis): the phase
// deadline timer and a hot copy of the authoritative snapshot.
type MatchCache interface {
	SetSnapshot(ctx context.Context, matchID string, snapshot json.RawMessage) error
	GetSnapshot(ctx context.Context, matchID string) (json.RawMessage, error)
	SetDeadline(ctx context.Context, matchID string, deadline time.Time) error
	ClearDeadline(ctx context.Context, matchID string) error
	DeleteMatchData(ctx context.Context, matchID string) error
}

// MessageRepository defines chat message data operations.
type MessageRepository interface {
	Create(ctx context.Context, matchID, senderID, recipientID, content string) (*model.Message, error)
	ListByMatch(ctx context.Context, matchID, userID string) ([]model.Message, error)
}
