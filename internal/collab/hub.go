package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"go.uber.org/zap"
)

const (
	defaultInboxSize          = 256
	defaultPersistenceTimeout = 5 * time.Second
)

// ErrHubStopped indicates the hub loop is no longer accepting commands.
var ErrHubStopped = errors.New("collab: hub stopped")

// ChatLog is the persistence surface for room chat.
type ChatLog interface {
	Append(ctx context.Context, noteID, senderID, senderDisplayName, text string) (chat.Message, bool, error)
	Recent(ctx context.Context, noteID string, limit int) ([]chat.Message, error)
}

// HubConfig describes the dependencies of the hub.
type HubConfig struct {
	Notes              NoteStore
	Chat               ChatLog
	Logger             *zap.Logger
	HistoryLimit       int
	SendBuffer         int
	InboxSize          int
	PersistenceTimeout time.Duration
}

type commandKind int

const (
	commandEvent commandKind = iota
	commandConnect
	commandDisconnect
)

type command struct {
	kind         commandKind
	connectionID string
	identity     auth.Identity
	inbound      Inbound
}

type session struct {
	id       string
	identity auth.Identity
	rooms    map[string]struct{}
	editing  string
}

// Hub serializes every realtime operation through a single loop. Each command,
// including the storage calls it makes, completes before the next one starts.
type Hub struct {
	registry           *Registry
	dispatcher         *Dispatcher
	notes              NoteStore
	chat               ChatLog
	logger             *zap.Logger
	historyLimit       int
	persistenceTimeout time.Duration

	inbox    chan command
	done     chan struct{}
	sessions map[string]*session
}

// NewHub constructs a hub. Run must be started before commands are processed.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Notes == nil {
		return nil, fmt.Errorf("collab: note store required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("collab: chat log required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = chat.DefaultHistoryLimit
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	timeout := cfg.PersistenceTimeout
	if timeout <= 0 {
		timeout = defaultPersistenceTimeout
	}
	return &Hub{
		registry:           NewRegistry(cfg.Notes),
		dispatcher:         NewDispatcher(cfg.SendBuffer, logger),
		notes:              cfg.Notes,
		chat:               cfg.Chat,
		logger:             logger,
		historyLimit:       historyLimit,
		persistenceTimeout: timeout,
		inbox:              make(chan command, inboxSize),
		done:               make(chan struct{}),
		sessions:           make(map[string]*session),
	}, nil
}

// Run processes commands until ctx is cancelled. Remaining sessions are
// disconnected before it returns.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case cmd := <-h.inbox:
			h.handle(ctx, cmd)
		}
	}
}

// Connect attaches an outbound stream for the connection and registers its session.
func (h *Hub) Connect(ctx context.Context, connectionID string, identity auth.Identity) (<-chan Outbound, error) {
	stream, err := h.dispatcher.Attach(connectionID)
	if err != nil {
		return nil, err
	}
	if err := h.enqueue(ctx, command{kind: commandConnect, connectionID: connectionID, identity: identity}); err != nil {
		h.dispatcher.Detach(connectionID)
		return nil, err
	}
	return stream, nil
}

// Submit queues a client event for the connection.
func (h *Hub) Submit(ctx context.Context, connectionID string, inbound Inbound) error {
	return h.enqueue(ctx, command{kind: commandEvent, connectionID: connectionID, inbound: inbound})
}

// Disconnect queues the teardown of the connection. Its stream is closed once processed.
func (h *Hub) Disconnect(ctx context.Context, connectionID string) error {
	return h.enqueue(ctx, command{kind: commandDisconnect, connectionID: connectionID})
}

// Reject sends an error frame straight to the connection without touching room state.
func (h *Hub) Reject(connectionID, code string) {
	errorsTotal.WithLabelValues(code).Inc()
	h.dispatcher.Deliver(connectionID, errorFrame(code, ""))
}

func (h *Hub) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.inbox <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case commandConnect:
		h.handleConnect(cmd.connectionID, cmd.identity)
	case commandDisconnect:
		h.handleDisconnect(cmd.connectionID)
	default:
		s, ok := h.sessions[cmd.connectionID]
		if !ok {
			h.logger.Debug("event from unknown connection",
				zap.String("connection_id", cmd.connectionID),
				zap.String("event", cmd.inbound.Event),
			)
			return
		}
		eventsTotal.WithLabelValues(eventLabel(cmd.inbound.Event)).Inc()
		h.handleEvent(ctx, s, cmd.inbound)
	}
}

func (h *Hub) shutdown() {
	for id := range h.sessions {
		h.handleDisconnect(id)
	}
}

func (h *Hub) toSender(s *session, message Outbound) {
	h.dispatcher.Deliver(s.id, message)
}

func (h *Hub) toRoom(noteID string, message Outbound) {
	h.dispatcher.DeliverAll(h.registry.ConnectionIDs(noteID), message)
}

func (h *Hub) toOthers(noteID, senderConnectionID string, message Outbound) {
	for _, id := range h.registry.ConnectionIDs(noteID) {
		if id == senderConnectionID {
			continue
		}
		h.dispatcher.Deliver(id, message)
	}
}

func (h *Hub) fail(s *session, noteID string, err error) {
	var protocolErr *Error
	code := CodeBadPayload
	if errors.As(err, &protocolErr) {
		code = protocolErr.Code()
	}
	errorsTotal.WithLabelValues(code).Inc()
	fields := []zap.Field{
		zap.String("connection_id", s.id),
		zap.String("user_id", s.identity.ID),
		zap.String("note_id", noteID),
		zap.String("code", code),
		zap.Error(err),
	}
	if errors.Is(err, ErrPersistence) {
		h.logger.Warn("realtime operation failed", fields...)
	} else {
		h.logger.Info("realtime operation rejected", fields...)
	}
	h.toSender(s, errorFrame(code, noteID))
}

func (h *Hub) persistenceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.persistenceTimeout)
}

func observePersistence(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	persistenceSeconds.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
