package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/collab"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	realtimeTokenQueryParam = "token"
	realtimeWriteWait       = 10 * time.Second
	defaultPingPeriod       = 30 * time.Second
	defaultReadLimitBytes   = 64 * 1024
	defaultEventsPerSecond  = 20
	defaultEventBurst       = 40
)

// RealtimeOptions tunes the websocket transport.
type RealtimeOptions struct {
	PingPeriod      time.Duration
	ReadLimitBytes  int64
	EventsPerSecond float64
	EventBurst      int
}

func (o RealtimeOptions) withDefaults() RealtimeOptions {
	if o.PingPeriod <= 0 {
		o.PingPeriod = defaultPingPeriod
	}
	if o.ReadLimitBytes <= 0 {
		o.ReadLimitBytes = defaultReadLimitBytes
	}
	if o.EventsPerSecond <= 0 {
		o.EventsPerSecond = defaultEventsPerSecond
	}
	if o.EventBurst <= 0 {
		o.EventBurst = defaultEventBurst
	}
	return o
}

type realtimeEndpoint struct {
	hub      *collab.Hub
	options  RealtimeOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func newRealtimeEndpoint(hub *collab.Hub, options RealtimeOptions, allowedOrigins []string, logger *zap.Logger) *realtimeEndpoint {
	return &realtimeEndpoint{
		hub:     hub,
		options: options.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		logger: logger,
	}
}

// handleRealtime authenticates before upgrading; rejected handshakes never reach the hub.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	identity, err := h.authenticator.Authenticate(c.Request.Context(), realtimeToken(c.Request))
	if err != nil {
		h.abortUnauthenticated(c, err)
		return
	}
	h.realtime.serve(c.Writer, c.Request, identity)
}

func (e *realtimeEndpoint) serve(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket upgrade failed", zap.String("user_id", identity.ID), zap.Error(err))
		return
	}

	connectionID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := e.hub.Connect(ctx, connectionID, identity)
	if err != nil {
		e.logger.Error("failed to register realtime connection", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"),
			time.Now().Add(realtimeWriteWait))
		_ = conn.Close()
		return
	}

	client := &realtimeClient{
		id:       connectionID,
		identity: identity,
		conn:     conn,
		hub:      e.hub,
		options:  e.options,
		limiter:  rate.NewLimiter(rate.Limit(e.options.EventsPerSecond), e.options.EventBurst),
		logger:   e.logger.With(zap.String("connection_id", connectionID), zap.String("user_id", identity.ID)),
	}
	client.logger.Debug("realtime connection opened")
	go client.writePump(stream)
	client.readPump(ctx)
}

type realtimeClient struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	hub      *collab.Hub
	options  RealtimeOptions
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func (c *realtimeClient) readPump(ctx context.Context) {
	defer func() {
		if err := c.hub.Disconnect(context.Background(), c.id); err != nil {
			c.logger.Debug("realtime disconnect not queued", zap.Error(err))
		}
		_ = c.conn.Close()
		c.logger.Debug("realtime connection closed")
	}()

	pongWait := 2 * c.options.PingPeriod
	c.conn.SetReadLimit(c.options.ReadLimitBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("realtime connection dropped", zap.Error(err))
			}
			return
		}
		if !c.limiter.Allow() {
			c.hub.Reject(c.id, collab.CodeRateLimited)
			continue
		}
		var inbound collab.Inbound
		if err := json.Unmarshal(raw, &inbound); err != nil || strings.TrimSpace(inbound.Event) == "" {
			c.hub.Reject(c.id, collab.CodeBadPayload)
			continue
		}
		if err := c.hub.Submit(ctx, c.id, inbound); err != nil {
			c.logger.Warn("realtime event not queued", zap.Error(err))
			return
		}
	}
}

func (c *realtimeClient) writePump(stream <-chan collab.Outbound) {
	ticker := time.NewTicker(c.options.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-stream:
			_ = c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// realtimeToken reads the bearer token from the handshake query or Authorization header.
func realtimeToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get(realtimeTokenQueryParam)); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func originAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" || len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}
