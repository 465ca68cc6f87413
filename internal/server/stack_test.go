package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/database"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testStack struct {
	server *httptest.Server
	issuer *auth.TokenIssuer
	users  *users.Service
	notes  *notes.Service
	chat   *chat.Service
}

type stackOption func(*Dependencies)

func withRealtimeOptions(options RealtimeOptions) stackOption {
	return func(deps *Dependencies) {
		deps.Realtime = options
	}
}

func newTestStack(t *testing.T, options ...stackOption) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	require.NoError(t, err)

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Users:      userService,
	})
	require.NoError(t, err)
	chatService, err := chat.NewService(chat.ServiceConfig{Database: db})
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "notecollab-auth",
		Audience:      "notecollab-api",
		TokenTTL:      time.Minute,
	})
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(issuer, userService, zap.NewNop())
	require.NoError(t, err)

	hub, err := collab.NewHub(collab.HubConfig{Notes: noteService, Chat: chatService})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = hub.Run(ctx)
	}()

	deps := Dependencies{
		Authenticator:  authenticator,
		NotesService:   noteService,
		ChatService:    chatService,
		UsersService:   userService,
		Hub:            hub,
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"*"},
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testStack{server: server, issuer: issuer, users: userService, notes: noteService, chat: chatService}
}

func (s *testStack) createUser(t *testing.T, username, displayName string) (users.User, string) {
	t.Helper()
	user, err := s.users.Create(context.Background(), users.NewUser{Username: username, DisplayName: displayName})
	require.NoError(t, err)
	token, _, err := s.issuer.IssueToken(context.Background(), user.ID)
	require.NoError(t, err)
	return user, token
}

func (s *testStack) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	return response
}
