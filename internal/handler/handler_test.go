package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbellot/loup-garou/internal/auth"
	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/internal/repository"
	"github.com/mbellot/loup-garou/internal/service"
	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// --- Mock repositories ---

type memMatchStore struct {
	mu      sync.Mutex
	matches map[string]*model.Match
	retired map[string]bool
}

func newMemMatchStore() *memMatchStore {
	return &memMatchStore{matches: make(map[string]*model.Match), retired: make(map[string]bool)}
}

func cloneMatch(m *model.Match) *model.Match {
	raw, _ := json.Marshal(m)
	var cp model.Match
	_ = json.Unmarshal(raw, &cp)
	return &cp
}

func (s *memMatchStore) Load(_ context.Context, matchID string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, nil
	}
	return cloneMatch(m), nil
}

func (s *memMatchStore) CommitIfVersion(_ context.Context, matchID string, expectedVersion int64, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.matches[matchID]
	if expectedVersion == 0 {
		if ok {
			return repository.ErrVersionConflict
		}
	} else if !ok || cur.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	s.matches[matchID] = cloneMatch(m)
	return nil
}

func (s *memMatchStore) listWhere(keep func(*model.Match) bool) []model.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Match
	for _, m := range s.matches {
		if !s.retired[m.ID] && keep(m) {
			out = append(out, *cloneMatch(m))
		}
	}
	return out
}

func (s *memMatchStore) ListOpen(context.Context) ([]model.Match, error) {
	return s.listWhere(func(m *model.Match) bool { return m.State == werewolf.PhaseLobby }), nil
}

func (s *memMatchStore) ListByPlayer(_ context.Context, playerID string) ([]model.Match, error) {
	return s.listWhere(func(m *model.Match) bool { return m.PlayerByID(playerID) != nil }), nil
}

func (s *memMatchStore) ListFinished(context.Context) ([]model.Match, error) {
	return s.listWhere(func(m *model.Match) bool { return m.State == werewolf.PhaseEnd }), nil
}

func (s *memMatchStore) ListActive(context.Context) ([]model.Match, error) {
	return s.listWhere(func(m *model.Match) bool { return m.State.Timed() }), nil
}

func (s *memMatchStore) ListExpired(_ context.Context, now time.Time) ([]model.Match, error) {
	return s.listWhere(func(m *model.Match) bool { return m.State.Timed() && !now.Before(m.PhaseDeadline) }), nil
}

func (s *memMatchStore) ListEndedBefore(_ context.Context, cutoff time.Time) ([]model.Match, error) {
	return s.listWhere(func(m *model.Match) bool {
		return m.State == werewolf.PhaseEnd && m.FinishedAt != nil && m.FinishedAt.Before(cutoff)
	}), nil
}

func (s *memMatchStore) MarkRetired(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired[matchID] = true
	return nil
}

type memMatchCache struct {
	mu        sync.Mutex
	snapshots map[string]json.RawMessage
}

func newMemMatchCache() *memMatchCache {
	return &memMatchCache{snapshots: make(map[string]json.RawMessage)}
}

func (c *memMatchCache) SetSnapshot(_ context.Context, matchID string, snapshot json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[matchID] = append(json.RawMessage(nil), snapshot...)
	return nil
}

func (c *memMatchCache) GetSnapshot(_ context.Context, matchID string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[matchID], nil
}

func (c *memMatchCache) SetDeadline(context.Context, string, time.Time) error { return nil }
func (c *memMatchCache) ClearDeadline(context.Context, string) error          { return nil }

func (c *memMatchCache) DeleteMatchData(_ context.Context, matchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, matchID)
	return nil
}

type memUserRepo struct {
	users map[string]*model.User
	seq   int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *memUserRepo) FindByProviderID(_ context.Context, provider, providerID string) (*model.User, error) {
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Upsert(_ context.Context, provider, providerID, displayName, avatarURL string) (*model.User, error) {
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			u.DisplayName = displayName
			return u, nil
		}
	}
	m.seq++
	u := &model.User{
		ID:          fmt.Sprintf("user-%d", m.seq),
		Provider:    provider,
		ProviderID:  providerID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memUserRepo) UpdateDisplayName(_ context.Context, id, displayName string) error {
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.DisplayName = displayName
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	seq      int
	messages []model.Message
}

func (r *memMessageRepo) Create(_ context.Context, matchID, senderID, recipientID, content string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg := model.Message{
		ID:          fmt.Sprintf("msg-%d", r.seq),
		MatchID:     matchID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	r.messages = append(r.messages, msg)
	return &msg, nil
}

func (r *memMessageRepo) ListByMatch(_ context.Context, matchID, userID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.MatchID != matchID {
			continue
		}
		if m.RecipientID != "" && m.RecipientID != userID && m.SenderID != userID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// --- Fixture ---

type handlerFixture struct {
	engine   *service.Engine
	jwtMgr   *auth.JWTManager
	userRepo *memUserRepo
	messages *memMessageRepo
	hub      *Hub
	mux      *http.ServeMux
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		jwtMgr:   auth.NewJWTManager("test-secret"),
		userRepo: newMemUserRepo(),
		messages: &memMessageRepo{},
		hub:      NewHub(),
	}
	durations := service.PhaseDurations{Night: time.Hour, Day: time.Hour, Vote: time.Hour}
	f.engine = service.NewEngine(newMemMatchStore(), newMemMatchCache(), service.NoopNotifier{}, f.hub, durations)

	matches := NewMatchHandler(f.engine)
	msgs := NewMessageHandler(f.messages, f.engine, f.hub)

	authed := auth.Middleware(f.jwtMgr)
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/matches", authed(http.HandlerFunc(matches.CreateMatch)))
	mux.Handle("GET /api/v1/matches", authed(http.HandlerFunc(matches.ListMatches)))
	mux.Handle("GET /api/v1/matches/{id}", authed(http.HandlerFunc(matches.GetMatch)))
	mux.Handle("POST /api/v1/matches/{id}/join", authed(http.HandlerFunc(matches.JoinMatch)))
	mux.Handle("POST /api/v1/matches/{id}/start", authed(http.HandlerFunc(matches.StartMatch)))
	mux.Handle("POST /api/v1/matches/{id}/vote", authed(http.HandlerFunc(matches.CastVote)))
	mux.Handle("POST /api/v1/matches/{id}/night-action", authed(http.HandlerFunc(matches.NightAction)))
	mux.Handle("POST /api/v1/matches/{id}/leave", authed(http.HandlerFunc(matches.LeaveMatch)))
	mux.Handle("GET /api/v1/matches/{id}/messages", authed(http.HandlerFunc(msgs.ListMessages)))
	mux.Handle("POST /api/v1/matches/{id}/messages", authed(http.HandlerFunc(msgs.SendMessage)))
	f.mux = mux
	return f
}

func (f *handlerFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.jwtMgr.GenerateAccessToken(userID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (f *handlerFixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func createLobby(t *testing.T, f *handlerFixture, creator string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/matches", creator, `{"display_name":"Creator"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create match: status %d body %s", rec.Code, rec.Body.String())
	}
	var snap model.MatchSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap.ID
}

// --- Tests ---

func TestCreateMatchRequiresDisplayName(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/matches", "u1", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateMatchRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/matches", strings.NewReader(`{"display_name":"X"}`))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJoinAndGetMatch(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")

	rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/join", "u2", `{"display_name":"Two"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("join: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/matches/"+matchID, "u2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var snap model.MatchSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Players) != 2 {
		t.Errorf("players = %d, want 2", len(snap.Players))
	}
}

func TestGetUnknownMatchReturns404(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/matches/nope", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDuplicateJoinReturns400(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")

	rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/join", "u1", `{"display_name":"Creator"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestStartWithTooFewPlayersReturns400(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")

	rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/start", "u1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestStartedMatchRedactsRoles(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")
	for _, u := range []string{"u2", "u3", "u4"} {
		if rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/join", u, `{"display_name":"P"}`); rec.Code != http.StatusOK {
			t.Fatalf("join %s: %d", u, rec.Code)
		}
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/start", "u1", ""); rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/matches/"+matchID, "u1", "")
	var snap model.MatchSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != werewolf.PhaseNight {
		t.Errorf("state = %s, want NIGHT", snap.State)
	}
	for _, p := range snap.Players {
		if p.ID != "u1" && p.RoleSelf != "" {
			t.Errorf("role of %s leaked to u1", p.ID)
		}
		if p.ID == "u1" && p.RoleSelf == "" {
			t.Error("viewer's own role missing")
		}
	}
}

func TestVoteOutsideVotePhaseReturns400(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")

	rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/vote", "u1", `{"target_id":"u2","round":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")

	rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/messages", "outsider", `{"content":"hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/messages", "u1", `{"content":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("member send: status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
}

func TestPrivateMessagesHiddenFromOthers(t *testing.T) {
	f := newHandlerFixture(t)
	matchID := createLobby(t, f, "u1")
	if rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/join", "u2", `{"display_name":"Two"}`); rec.Code != http.StatusOK {
		t.Fatal("join failed")
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/join", "u3", `{"display_name":"Three"}`); rec.Code != http.StatusOK {
		t.Fatal("join failed")
	}

	rec := f.do(t, http.MethodPost, "/api/v1/matches/"+matchID+"/messages", "u1", `{"recipient_id":"u2","content":"psst"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send private: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/matches/"+matchID+"/messages", "u3", "")
	var visible []model.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &visible); err != nil {
		t.Fatal(err)
	}
	for _, m := range visible {
		if m.Content == "psst" {
			t.Error("private message visible to third party")
		}
	}
}

func TestTelegramLoginRejectsBadSignature(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewAuthHandler(auth.NewTelegramVerifier("123:TOKEN"), f.jwtMgr, f.userRepo)

	body := fmt.Sprintf(`{"id":1,"first_name":"X","auth_date":%d,"hash":"deadbeef"}`, time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/auth/telegram", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.TelegramLogin(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRefreshTokenRoundtrip(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewAuthHandler(nil, f.jwtMgr, f.userRepo)

	pair, err := f.jwtMgr.GenerateTokenPair("u1")
	if err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken)
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var tokens auth.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatal(err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Error("incomplete token pair")
	}
}
