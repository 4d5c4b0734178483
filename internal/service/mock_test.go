package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/internal/repository"
	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// mockMatchStore is an in-memory MatchStore with real optimistic
// concurrency semantics. Matches are stored as deep copies via JSON so
// tests never share mutable state with the engine.
type mockMatchStore struct {
	mu      sync.Mutex
	matches map[string]*model.Match
	retired map[string]bool
}

func newMockMatchStore() *mockMatchStore {
	return &mockMatchStore{
		matches: make(map[string]*model.Match),
		retired: make(map[string]bool),
	}
}

func copyMatch(m *model.Match) *model.Match {
	raw, _ := json.Marshal(m)
	var cp model.Match
	_ = json.Unmarshal(raw, &cp)
	return &cp
}

func (s *mockMatchStore) Load(_ context.Context, matchID string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, nil
	}
	return copyMatch(m), nil
}

func (s *mockMatchStore) CommitIfVersion(_ context.Context, matchID string, expectedVersion int64, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.matches[matchID]
	if expectedVersion == 0 {
		if ok {
			return repository.ErrVersionConflict
		}
	} else {
		if !ok || cur.Version != expectedVersion {
			return repository.ErrVersionConflict
		}
	}
	s.matches[matchID] = copyMatch(m)
	return nil
}

func (s *mockMatchStore) ListOpen(_ context.Context) ([]model.Match, error) {
	return s.list(func(m *model.Match) bool {
		return m.State == werewolf.PhaseLobby && !s.retired[m.ID]
	}), nil
}

func (s *mockMatchStore) ListByPlayer(_ context.Context, playerID string) ([]model.Match, error) {
	return s.list(func(m *model.Match) bool {
		return m.PlayerByID(playerID) != nil && !s.retired[m.ID]
	}), nil
}

func (s *mockMatchStore) ListFinished(_ context.Context) ([]model.Match, error) {
	return s.list(func(m *model.Match) bool {
		return m.State == werewolf.PhaseEnd && !s.retired[m.ID]
	}), nil
}

func (s *mockMatchStore) ListActive(_ context.Context) ([]model.Match, error) {
	return s.list(func(m *model.Match) bool {
		return m.State.Timed() && !s.retired[m.ID]
	}), nil
}

func (s *mockMatchStore) ListExpired(_ context.Context, now time.Time) ([]model.Match, error) {
	return s.list(func(m *model.Match) bool {
		return m.State.Timed() && !s.retired[m.ID] && !now.Before(m.PhaseDeadline)
	}), nil
}

func (s *mockMatchStore) ListEndedBefore(_ context.Context, cutoff time.Time) ([]model.Match, error) {
	return s.list(func(m *model.Match) bool {
		return m.State == werewolf.PhaseEnd && !s.retired[m.ID] &&
			m.FinishedAt != nil && m.FinishedAt.Before(cutoff)
	}), nil
}

func (s *mockMatchStore) MarkRetired(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired[matchID] = true
	return nil
}

func (s *mockMatchStore) list(keep func(*model.Match) bool) []model.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.Match
	for _, m := range s.matches {
		if keep(m) {
			result = append(result, *copyMatch(m))
		}
	}
	return result
}

// mockMatchCache records cache calls without a Redis server.
type mockMatchCache struct {
	mu        sync.Mutex
	snapshots map[string]json.RawMessage
	deadlines map[string]time.Time
}

func newMockMatchCache() *mockMatchCache {
	return &mockMatchCache{
		snapshots: make(map[string]json.RawMessage),
		deadlines: make(map[string]time.Time),
	}
}

func (c *mockMatchCache) SetSnapshot(_ context.Context, matchID string, snapshot json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[matchID] = append(json.RawMessage(nil), snapshot...)
	return nil
}

func (c *mockMatchCache) GetSnapshot(_ context.Context, matchID string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.snapshots[matchID]
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (c *mockMatchCache) SetDeadline(_ context.Context, matchID string, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[matchID] = deadline
	return nil
}

func (c *mockMatchCache) ClearDeadline(_ context.Context, matchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadlines, matchID)
	return nil
}

func (c *mockMatchCache) DeleteMatchData(_ context.Context, matchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, matchID)
	delete(c.deadlines, matchID)
	return nil
}

// recordingNotifier captures public and private notices for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	public   []string
	privates map[string][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{privates: make(map[string][]string)}
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.public = append(n.public, text)
}

func (n *recordingNotifier) NotifyPlayer(_ context.Context, _ string, playerID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.privates[playerID] = append(n.privates[playerID], text)
}

// recordingBroadcaster captures emitted events.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastMatchEvent(_ string, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) has(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// mockMessageRepo stores chat messages in memory.
type mockMessageRepo struct {
	mu       sync.Mutex
	messages []model.Message
}

func (r *mockMessageRepo) Create(_ context.Context, matchID, senderID, recipientID, content string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := model.Message{
		ID:          time.Now().Format("20060102150405.000000000"),
		MatchID:     matchID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	r.messages = append(r.messages, msg)
	return &msg, nil
}

func (r *mockMessageRepo) ListByMatch(_ context.Context, matchID, userID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []model.Message
	for _, msg := range r.messages {
		if msg.MatchID != matchID {
			continue
		}
		if msg.RecipientID != "" && msg.RecipientID != userID && msg.SenderID != userID {
			continue
		}
		result = append(result, msg)
	}
	return result, nil
}
