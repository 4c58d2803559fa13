package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/auth"
	"github.com/fathima-sithara/conversation-service/internal/cache"
	"github.com/fathima-sithara/conversation-service/internal/domain"
	"github.com/fathima-sithara/conversation-service/internal/repository"
	"github.com/fathima-sithara/conversation-service/internal/service"
)

const secret = "api-secret"

type fakeBroadcaster struct {
	mu       sync.Mutex
	sent     []*service.SendResult
	receipts []domain.ReadReceipt
}

func (b *fakeBroadcaster) PublishSent(_ context.Context, res *service.SendResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, res)
}

func (b *fakeBroadcaster) PublishRead(_ context.Context, receipts []domain.ReadReceipt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts = append(b.receipts, receipts...)
}

type fakePresence struct{ err error }

func (p fakePresence) Get(_ context.Context, userID string) (cache.Status, error) {
	return cache.Status{UserID: userID, Online: true}, p.err
}

type localOnline map[string]bool

func (l localOnline) Online(userID string) bool { return l[userID] }

type testServer struct {
	app     *fiber.App
	bc      *fakeBroadcaster
	msgRepo *repository.MemoryMessageRepository
}

func newTestServer(t *testing.T, presence PresenceLookup) *testServer {
	t.Helper()
	log := zap.NewNop()
	timeout := 100 * time.Millisecond
	msgRepo := repository.NewMemoryMessageRepository()
	unread := service.NewUnreadTracker(repository.NewMemoryUnreadRepository(), timeout)
	registry := service.NewConversationRegistry(repository.NewMemoryConversationRepository(), unread, timeout, log)
	chat := service.NewChatService(registry, service.NewMessageService(msgRepo, nil, 500, timeout), unread, nil, nil, log)
	v, err := auth.NewHS256Validator(secret)
	require.NoError(t, err)
	bc := &fakeBroadcaster{}
	app := NewServer(Deps{
		Chat:      chat,
		Broadcast: bc,
		Validator: v,
		Presence:  presence,
		Local:     localOnline{"u2": true},
		Health:    map[string]HealthCheck{"store": func(context.Context) error { return nil }},
		Log:       log,
	})
	return &testServer{app: app, bc: bc, msgRepo: msgRepo}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	r := httptest.NewRequest(method, path, rd)
	r.Header.Set("Content-Type", "application/json")
	if userID != "" {
		r.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	resp, err := s.app.Test(r, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}

func TestREST_SendReadScenario(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodPost, "/api/v1/conversations", "u1", map[string]string{"participantId": "u2"})
	req.Equal(http.StatusOK, code)
	var conv domain.Conversation
	req.NoError(json.Unmarshal(env.Data, &conv))
	req.Equal([]string{"u1", "u2"}, conv.Participants)

	code, env = s.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", "u1", map[string]string{"content": "hi"})
	req.Equal(http.StatusCreated, code)
	var msg domain.Message
	req.NoError(json.Unmarshal(env.Data, &msg))
	req.Len(s.bc.sent, 1)

	code, env = s.do(t, http.MethodGet, "/api/v1/conversations", "u2", nil)
	req.Equal(http.StatusOK, code)
	var list []domain.Conversation
	req.NoError(json.Unmarshal(env.Data, &list))
	req.Len(list, 1)
	req.Equal(map[string]int{"u1": 0, "u2": 1}, list[0].UnreadCount)
	req.Equal("hi", list[0].LastMessage.Content)

	code, env = s.do(t, http.MethodPatch, "/api/v1/messages/read", "u2", map[string][]string{"messageIds": {msg.ID}})
	req.Equal(http.StatusOK, code)
	var receipts []domain.ReadReceipt
	req.NoError(json.Unmarshal(env.Data, &receipts))
	req.Len(receipts, 1)
	req.Len(s.bc.receipts, 1)

	code, env = s.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages?page=1&limit=20", "u2", nil)
	req.Equal(http.StatusOK, code)
	var msgs []domain.Message
	req.NoError(json.Unmarshal(env.Data, &msgs))
	req.Len(msgs, 1)
	req.Equal("u1", msgs[0].SenderID)
	req.Equal("hi", msgs[0].Content)
	req.True(msgs[0].IsRead)

	_, env = s.do(t, http.MethodGet, "/api/v1/conversations", "u2", nil)
	req.NoError(json.Unmarshal(env.Data, &list))
	req.Equal(0, list[0].UnreadCount["u2"])
}

func TestREST_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	_, env := s.do(t, http.MethodPost, "/api/v1/conversations", "u1", map[string]string{"participantId": "u2"})
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	msgsPath := "/api/v1/conversations/" + conv.ID + "/messages"

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/conversations", "", nil, http.StatusUnauthorized},
		{"non participant history", http.MethodGet, msgsPath, "u3", nil, http.StatusForbidden},
		{"non participant send", http.MethodPost, msgsPath, "u3", map[string]string{"content": "x"}, http.StatusForbidden},
		{"unknown conversation", http.MethodGet, "/api/v1/conversations/nope/messages", "u1", nil, http.StatusNotFound},
		{"empty content", http.MethodPost, msgsPath, "u1", map[string]string{"content": "  "}, http.StatusBadRequest},
		{"empty message ids", http.MethodPatch, "/api/v1/messages/read", "u1", map[string][]string{"messageIds": {}}, http.StatusBadRequest},
		{"unknown message ids", http.MethodPatch, "/api/v1/messages/read", "u2", map[string][]string{"messageIds": {"ghost"}}, http.StatusNotFound},
		{"open with self", http.MethodPost, "/api/v1/conversations", "u1", map[string]string{"participantId": "u1"}, http.StatusBadRequest},
		{"open without participant", http.MethodPost, "/api/v1/conversations", "u1", map[string]string{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.method, tt.path, tt.user, tt.body)
			require.Equal(t, tt.want, code)
			require.NotEmpty(t, env.Error)
		})
	}
}

func TestREST_PersistenceFailureIs500(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	_, env := s.do(t, http.MethodPost, "/api/v1/conversations", "u1", map[string]string{"participantId": "u2"})
	var conv domain.Conversation
	req.NoError(json.Unmarshal(env.Data, &conv))

	s.msgRepo.Fail(errors.New("no reachable servers"))
	code, env := s.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", "u1", map[string]string{"content": "hi"})
	req.Equal(http.StatusInternalServerError, code)
	req.Equal("internal error", env.Error)
	req.Empty(s.bc.sent)
}

func TestREST_Pagination(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	_, env := s.do(t, http.MethodPost, "/api/v1/conversations", "u1", map[string]string{"participantId": "u2"})
	var conv domain.Conversation
	req.NoError(json.Unmarshal(env.Data, &conv))
	path := "/api/v1/conversations/" + conv.ID + "/messages"

	for i := 0; i < 5; i++ {
		code, _ := s.do(t, http.MethodPost, path, "u1", map[string]string{"content": string(rune('a' + i))})
		req.Equal(http.StatusCreated, code)
	}
	var got []string
	for page := 1; page <= 3; page++ {
		_, env := s.do(t, http.MethodGet, path+"?limit=2&page="+string(rune('0'+page)), "u2", nil)
		var msgs []domain.Message
		req.NoError(json.Unmarshal(env.Data, &msgs))
		for _, m := range msgs {
			got = append(got, m.Content)
		}
	}
	req.Equal([]string{"a", "b", "c", "d", "e"}, got)

	for _, page := range []string{"4", "2147483648", "9223372036854775807"} {
		code, env := s.do(t, http.MethodGet, path+"?limit=10&page="+page, "u2", nil)
		req.Equal(http.StatusOK, code, page)
		var msgs []domain.Message
		req.NoError(json.Unmarshal(env.Data, &msgs))
		req.Empty(msgs, page)
	}
}

func TestREST_PresenceAndHealth(t *testing.T) {
	req := require.New(t)

	s := newTestServer(t, fakePresence{})
	_, env := s.do(t, http.MethodGet, "/api/v1/presence/u9", "u1", nil)
	var st cache.Status
	req.NoError(json.Unmarshal(env.Data, &st))
	req.True(st.Online)

	// redis failure falls back to this process's connections
	s = newTestServer(t, fakePresence{err: errors.New("redis down")})
	_, env = s.do(t, http.MethodGet, "/api/v1/presence/u9", "u1", nil)
	req.NoError(json.Unmarshal(env.Data, &st))
	req.False(st.Online)
	_, env = s.do(t, http.MethodGet, "/api/v1/presence/u2", "u1", nil)
	req.NoError(json.Unmarshal(env.Data, &st))
	req.True(st.Online)

	code, env := s.do(t, http.MethodGet, "/health", "", nil)
	req.Equal(http.StatusOK, code)
	req.Equal("ok", env.Status)
}
