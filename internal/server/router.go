package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const identityContextKey = "notecollab_identity"

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingNotesService  = errors.New("notes service dependency required")
	errMissingChatService   = errors.New("chat service dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingHub           = errors.New("realtime hub dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// RequestAuthenticator resolves a bearer token to an identity.
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// UserDirectory serves the collaborator lookup endpoints.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (users.User, error)
	List(ctx context.Context, query string, limit int) ([]users.User, error)
}

type Dependencies struct {
	Authenticator  RequestAuthenticator
	NotesService   *notes.Service
	ChatService    *chat.Service
	UsersService   UserDirectory
	Hub            *collab.Hub
	Logger         *zap.Logger
	AllowedOrigins []string
	Realtime       RealtimeOptions
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.ChatService == nil {
		return nil, errMissingChatService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		authenticator: deps.Authenticator,
		notesService:  deps.NotesService,
		chatService:   deps.ChatService,
		usersService:  deps.UsersService,
		logger:        logger,
		realtime:      newRealtimeEndpoint(deps.Hub, deps.Realtime, deps.AllowedOrigins, logger),
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", handler.handleRealtime)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)
	protected.GET("/users", handler.handleListUsers)
	protected.GET("/users/:id", handler.handleGetUser)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes", handler.handleListNotes)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.PUT("/notes/:id/read-only", handler.handleSetReadOnly)
	protected.POST("/notes/:id/collaborators", handler.handleAddCollaborator)
	protected.GET("/notes/:id/messages", handler.handleListMessages)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	authenticator RequestAuthenticator
	notesService  *notes.Service
	chatService   *chat.Service
	usersService  UserDirectory
	logger        *zap.Logger
	realtime      *realtimeEndpoint
}

type noteResponsePayload struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Tags            []string  `json:"tags"`
	ReadOnly        bool      `json:"readOnly"`
	CollaboratorIDs []string  `json:"collaboratorIds"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type createNoteRequestPayload struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags"`
	CollaboratorIDs []string `json:"collaboratorIds"`
}

type updateNoteRequestPayload struct {
	Title           *string   `json:"title"`
	Content         *string   `json:"content"`
	Tags            *[]string `json:"tags"`
	CollaboratorIDs *[]string `json:"collaboratorIds"`
}

type userResponsePayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type readOnlyRequestPayload struct {
	ReadOnly *bool `json:"readOnly"`
}

type collaboratorRequestPayload struct {
	UserID string `json:"userId"`
}

func newNoteResponse(note notes.Note) noteResponsePayload {
	tags := []string(note.Tags)
	if tags == nil {
		tags = []string{}
	}
	return noteResponsePayload{
		ID:              note.ID,
		OwnerID:         note.OwnerID,
		Title:           note.Title,
		Content:         note.Content,
		Tags:            tags,
		ReadOnly:        note.ReadOnly,
		CollaboratorIDs: note.CollaboratorIDs(),
		CreatedAt:       note.CreatedAt,
		UpdatedAt:       note.UpdatedAt,
	}
}

func newUserResponse(user users.User) userResponsePayload {
	return userResponsePayload{ID: user.ID, Username: user.Username, DisplayName: user.PublicName()}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentIdentity(c))
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request createNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Create(c.Request.Context(), currentIdentity(c).ID, notes.NoteInput{
		Title:           request.Title,
		Content:         request.Content,
		Tags:            request.Tags,
		CollaboratorIDs: request.CollaboratorIDs,
	})
	if err != nil {
		writeNotesError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newNoteResponse(note))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	pageNumber, ok := positiveQueryInt(c, "page", 1)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pagination"})
		return
	}
	pageSize, ok := positiveQueryInt(c, "limit", 0)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pagination"})
		return
	}
	listed, err := h.notesService.ListForUser(c.Request.Context(), currentIdentity(c).ID, notes.Page{Number: pageNumber, Size: pageSize})
	if err != nil {
		writeNotesError(c, err)
		return
	}
	response := make([]noteResponsePayload, 0, len(listed.Notes))
	for _, note := range listed.Notes {
		response = append(response, newNoteResponse(note))
	}
	c.JSON(http.StatusOK, gin.H{
		"notes": response,
		"page":  listed.Page.Number,
		"limit": listed.Page.Size,
		"total": listed.Total,
	})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.notesService.GetForUser(c.Request.Context(), currentIdentity(c).ID, c.Param("id"))
	if err != nil {
		writeNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var request updateNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Update(c.Request.Context(), currentIdentity(c).ID, c.Param("id"), notes.NoteUpdate{
		Title:           request.Title,
		Content:         request.Content,
		Tags:            request.Tags,
		CollaboratorIDs: request.CollaboratorIDs,
	})
	if err != nil {
		writeNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	if err := h.notesService.Delete(c.Request.Context(), currentIdentity(c).ID, c.Param("id")); err != nil {
		writeNotesError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetReadOnly(c *gin.Context) {
	var request readOnlyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ReadOnly == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.SetReadOnly(c.Request.Context(), currentIdentity(c).ID, c.Param("id"), *request.ReadOnly)
	if err != nil {
		writeNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleAddCollaborator(c *gin.Context) {
	var request collaboratorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.AddCollaborator(c.Request.Context(), currentIdentity(c).ID, c.Param("id"), request.UserID)
	if err != nil {
		writeNotesError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	limit, ok := positiveQueryInt(c, "limit", chat.DefaultHistoryLimit)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	note, err := h.notesService.GetForUser(c.Request.Context(), currentIdentity(c).ID, c.Param("id"))
	if err != nil {
		writeNotesError(c, err)
		return
	}
	messages, err := h.chatService.Recent(c.Request.Context(), note.ID, limit)
	if err != nil {
		h.logger.Error("failed to load chat history", zap.String("note_id", note.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_failed"})
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	limit, ok := positiveQueryInt(c, "limit", users.DefaultListLimit)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	list, err := h.usersService.List(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	response := make([]userResponsePayload, 0, len(list))
	for _, user := range list {
		response = append(response, newUserResponse(user))
	}
	c.JSON(http.StatusOK, gin.H{"users": response})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.usersService.Lookup(c.Request.Context(), c.Param("id"))
	if errors.Is(err, auth.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", zap.String("user_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

// positiveQueryInt reads an optional positive integer query parameter.
func positiveQueryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.authenticator.Authenticate(c.Request.Context(), token)
	if err != nil {
		h.abortUnauthenticated(c, err)
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) abortUnauthenticated(c *gin.Context, err error) {
	var authErr *auth.AuthenticationError
	if errors.As(err, &authErr) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authErr.Reason})
		return
	}
	h.logger.Error("identity lookup failed", zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication_unavailable"})
}

func currentIdentity(c *gin.Context) auth.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}
	}
	identity, _ := value.(auth.Identity)
	return identity
}

func writeNotesError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound), errors.Is(err, notes.ErrInvalidNoteID):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrOwnerOnly):
		c.JSON(http.StatusForbidden, gin.H{"error": "owner_only"})
	case errors.Is(err, notes.ErrInvalidNote):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note"})
	case errors.Is(err, notes.ErrUnknownCollaborator):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_collaborator"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
