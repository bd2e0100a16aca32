package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"campusconnect/backend/internal/chathub"
	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/matchmaker"
	"campusconnect/backend/internal/models"
	"campusconnect/backend/internal/moderation"
	"campusconnect/backend/internal/presence"
	"campusconnect/backend/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memUsers is an in-memory stand-in for the relational storage.
type memUsers struct {
	mu      sync.Mutex
	users   map[string]*models.User
	history []models.ChatHistory
	reports []models.Complaint
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]*models.User{}} }

func (m *memUsers) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) LookupProfile(_ context.Context, id string) (models.Member, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.Member{}, false, nil
	}
	return u.AsMember(), true, nil
}

func (m *memUsers) SaveMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := models.ChatHistory{ChatID: msg.ChatID, SenderID: msg.SenderID, Content: msg.Content, Type: msg.Type}
	row.ID = uint(len(m.history) + 1)
	m.history = append(m.history, row)
	msg.ID = row.ID
	return nil
}

func (m *memUsers) GetChatHistory(_ context.Context, chatID string, limit int) ([]models.ChatHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatHistory
	for _, h := range m.history {
		if h.ChatID == chatID {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Nobody is ever banned; reports are kept for assertions.
func (m *memUsers) IsBanned(context.Context, string) (bool, error)    { return false, nil }
func (m *memUsers) Blocked(context.Context, string) ([]string, error) { return nil, nil }

func (m *memUsers) Block(_ context.Context, userID, targetID string) error {
	if userID == targetID {
		return moderation.ErrSelfBlock
	}
	return nil
}
func (m *memUsers) Unblock(context.Context, string, string) error { return nil }
func (m *memUsers) Report(_ context.Context, c *models.Complaint) (bool, error) {
	if moderation.Weight(c.ComplaintType) == 0 {
		return false, moderation.ErrUnknownComplaintType
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, *c)
	return false, nil
}

type api struct {
	router *gin.Engine
	store  *docstore.DocStore
	users  *memUsers
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	store := docstore.NewMemory(log)
	users := newMemUsers()

	sessions := session.NewRegistry(store, users, log)
	matcher := matchmaker.NewMatcher(store, users, log, 10)
	games := game.NewEngine(store, log, 3)
	hub := chathub.NewManagerService(chathub.Services{
		Presence:  presence.NewTracker(store, log),
		Sessions:  sessions,
		Matcher:   matcher,
		Games:     games,
		Messages:  users,
		Moderator: users,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		_ = store.Close()
	})

	h := NewHandler(Deps{
		Hub:        hub,
		Sessions:   sessions,
		Matcher:    matcher,
		Games:      games,
		Users:      users,
		Moderation: users,
		Auth:       NewAuthenticator("test-secret"),
	}, log)
	r := gin.New()
	h.Register(r)
	return &api{router: r, store: store, users: users}
}

func (a *api) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// signup returns (userID, token) for a fresh anonymous user.
func (a *api) signup(t *testing.T, name string) (string, string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/anonid", "", map[string]string{"display_name": name})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Token  string `json:"token"`
		AnonID string `json:"anon_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.AnonID, out.Token
}

func (a *api) seedChat(t *testing.T, id, u1, u2 string) {
	t.Helper()
	s := models.NewChatSession(id, u1, u2, models.Member{}, models.Member{}, time.Now())
	require.NoError(t, a.store.Set(context.Background(), models.ChatPath(id), s))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAuth(t *testing.T) {
	a := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/chats/c1", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/chats/c1", "garbage", nil).Code)

	other := NewAuthenticator("other-secret")
	forged, err := other.Issue("amy")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/chats/c1", forged, nil).Code)

	id, token := a.signup(t, "Amy")
	assert.Equal(t, "Amy", a.users.users[id].DisplayName)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/chats/c1", token, nil).Code)
}

func TestSignOut(t *testing.T) {
	a := newAPI(t)
	id, token := a.signup(t, "Amy")
	ctx := context.Background()
	online := models.Presence{State: models.PresenceOnline, LastChanged: time.Now()}
	require.NoError(t, a.store.Set(ctx, models.StatusPath(id), online))

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/signout", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/signout", token, nil).Code)

	snap, err := a.store.Get(ctx, models.StatusPath(id))
	require.NoError(t, err)
	var p models.Presence
	require.NoError(t, snap.Decode(&p))
	assert.Equal(t, models.PresenceOffline, p.State)
}

func TestAuthenticator_Expiry(t *testing.T) {
	auth := NewAuthenticator("s")
	issued := time.Now()
	auth.now = func() time.Time { return issued }
	token, err := auth.Issue("amy")
	require.NoError(t, err)

	id, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "amy", id)

	auth.now = func() time.Time { return issued.Add(tokenTTL + time.Minute) }
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestGameFlow(t *testing.T) {
	a := newAPI(t)
	amy, amyTok := a.signup(t, "Amy")
	ben, benTok := a.signup(t, "Ben")
	a.seedChat(t, "c1", amy, ben)

	w := a.do(t, http.MethodPost, "/chats/c1/game", amyTok, map[string]any{"kind": "connect_four"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Amy cannot accept her own proposal.
	w = a.do(t, http.MethodPost, "/chats/c1/game/accept", amyTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/chats/c1/game/accept", benTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	g := decode[models.GameState](t, w)
	assert.Equal(t, models.StatusActive, g.Status)
	assert.Equal(t, amy, g.Turn)

	w = a.do(t, http.MethodPost, "/chats/c1/game/move", benTok, map[string]any{"column": 3})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "not your turn")

	w = a.do(t, http.MethodPost, "/chats/c1/game/move", amyTok, map[string]any{"column": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ben, decode[models.GameState](t, w).Turn)

	w = a.do(t, http.MethodPost, "/chats/c1/game/move", benTok, map[string]any{"orientation": "h", "index": 0})
	assert.Equal(t, http.StatusConflict, w.Code, "line move on a connect four board")

	w = a.do(t, http.MethodPost, "/chats/c1/game/move", benTok, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/chats/c1/game", benTok, nil).Code)
	w = a.do(t, http.MethodGet, "/chats/c1", amyTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[models.ChatSession](t, w).Game)
}

func TestChatAccess(t *testing.T) {
	a := newAPI(t)
	amy, amyTok := a.signup(t, "Amy")
	ben, _ := a.signup(t, "Ben")
	_, malTok := a.signup(t, "Mallory")
	a.seedChat(t, "c1", amy, ben)

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/chats/c1", malTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/chats/c1/enter", malTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/chats/nope/enter", amyTok, nil).Code)

	w := a.do(t, http.MethodPost, "/chats/c1/enter", amyTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ben, decode[map[string]string](t, w)["partner_id"])
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/chats/c1/leave", amyTok, nil).Code)
}

func TestMessages(t *testing.T) {
	a := newAPI(t)
	amy, amyTok := a.signup(t, "Amy")
	ben, benTok := a.signup(t, "Ben")
	a.seedChat(t, "c1", amy, ben)

	for _, text := range []string{"hi", "how are you?", "fine"} {
		w := a.do(t, http.MethodPost, "/chats/c1/messages", amyTok, map[string]string{"content": text})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/chats/c1/messages", amyTok, map[string]string{"content": "  "}).Code)

	w := a.do(t, http.MethodGet, "/chats/c1/messages?limit=2", benTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[struct {
		Messages []models.ChatMessage `json:"messages"`
	}](t, w)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "how are you?", out.Messages[0].Content)
	assert.Equal(t, "fine", out.Messages[1].Content)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/chats/c1/messages?limit=-1", benTok, nil).Code)
}

func TestMatchOverHTTP(t *testing.T) {
	a := newAPI(t)
	amy, amyTok := a.signup(t, "Amy")
	ben, benTok := a.signup(t, "Ben")

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/match/wait", amyTok, nil).Code)

	w := a.do(t, http.MethodPost, "/match", amyTok, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodGet, "/match/wait?timeout=20ms", amyTok, nil).Code)

	w = a.do(t, http.MethodPost, "/match", benTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	benView := decode[struct {
		Session models.ChatSession `json:"session"`
	}](t, w)
	assert.ElementsMatch(t, []string{amy, ben}, benView.Session.MemberIDs)

	w = a.do(t, http.MethodGet, "/match/wait?timeout=2s", amyTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	amyView := decode[struct {
		Session models.ChatSession `json:"session"`
	}](t, w)
	assert.Equal(t, benView.Session.ID, amyView.Session.ID)

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/match", amyTok, nil).Code)
}

func TestFriendsBlocksReports(t *testing.T) {
	a := newAPI(t)
	amy, amyTok := a.signup(t, "Amy")
	ben, _ := a.signup(t, "Ben")

	w := a.do(t, http.MethodPost, "/friends/"+ben+"/chat", amyTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	chat := decode[models.ChatSession](t, w)
	assert.True(t, chat.IsFriendChat)
	assert.Equal(t, session.FriendChatID(amy, ben), chat.ID)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/friends/"+amy+"/chat", amyTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/friends/ghost/chat", amyTok, nil).Code)

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/users/"+ben+"/block", amyTok, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/users/"+amy+"/block", amyTok, nil).Code)
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/users/"+ben+"/block", amyTok, nil).Code)

	report := map[string]string{"reported_user_id": ben, "chat_id": chat.ID, "complaint_type": "Medium", "reason": "spam"}
	w = a.do(t, http.MethodPost, "/reports", amyTok, report)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, a.users.reports, 1)
	assert.Equal(t, amy, a.users.reports[0].ReporterID)

	report["complaint_type"] = "Spicy"
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/reports", amyTok, report).Code)
	report["reported_user_id"] = "stranger"
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/reports", amyTok, report).Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(game.ErrColumnFull))
	assert.Equal(t, http.StatusNotFound, statusOf(docstore.ErrNotFound))
	assert.Equal(t, http.StatusForbidden, statusOf(chathub.ErrBanned))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}
