package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lectern/internal/classroom"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the fronting proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// MessageHub receives lifecycle events and inbound envelopes from the
// transport. Implemented by the hub package; kept as an interface so the
// transport never depends on routing internals.
type MessageHub interface {
	HandleJoin(conn interfaces.Connection)
	HandleDisconnect(conn interfaces.Connection)
	Dispatch(conn interfaces.Connection, env *types.Envelope)
}

// HandlerOptions carries the transport tunables from configuration.
type HandlerOptions struct {
	WriteBufferSize int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	RateLimit       int
	RateWindow      time.Duration
}

// Handler authenticates join requests, upgrades them and pumps envelopes
// into the hub. Session membership is validated before the upgrade so bad
// requests get real HTTP status codes.
type Handler struct {
	registry  *Registry
	classroom *classroom.Manager
	hub       MessageHub
	auth      interfaces.Authenticator
	limiter   *RateLimiter
	opts      HandlerOptions
	log       *zap.Logger
}

// NewHandler wires the transport. A nil auth falls back to query-parameter
// identity.
func NewHandler(registry *Registry, cm *classroom.Manager, hub MessageHub, auth interfaces.Authenticator, opts HandlerOptions, log *zap.Logger) *Handler {
	if auth == nil {
		auth = QueryAuthenticator{}
	}
	return &Handler{
		registry:  registry,
		classroom: cm,
		hub:       hub,
		auth:      auth,
		limiter:   NewRateLimiter(opts.RateLimit, opts.RateWindow),
		opts:      opts,
		log:       log,
	}
}

// ServeWS handles a WebSocket join request.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}

	if err := h.classroom.CanJoin(sessionID, identity.ParticipantID, identity.Role); err != nil {
		switch {
		case errors.Is(err, classroom.ErrSessionNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		case errors.Is(err, classroom.ErrSessionOwned):
			http.Error(w, "session owned by another instructor", http.StatusConflict)
		default:
			http.Error(w, "not authorized to join session", http.StatusForbidden)
		}
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, identity.ParticipantID, identity.Role, sessionID, h.opts.WriteBufferSize, h.opts.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		h.log.Error("failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}

	h.log.Info("participant connected",
		zap.String("participant", identity.ParticipantID),
		zap.String("role", identity.Role),
		zap.String("session", sessionID))

	h.hub.HandleJoin(conn)

	go h.readLoop(conn)
}

// readLoop pumps inbound frames until the socket dies, then runs the
// disconnect sequence exactly once.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.hub.HandleDisconnect(conn)
		h.registry.Unregister(conn)
		h.limiter.Forget(conn.ParticipantID())
		_ = conn.Close()
		h.log.Info("participant disconnected",
			zap.String("participant", conn.ParticipantID()),
			zap.String("session", conn.SessionID()))
	}()

	_ = conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error",
					zap.String("participant", conn.ParticipantID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !h.limiter.Allow(conn.ParticipantID()) {
			h.reject(conn, types.CodeRateLimited, "message rate limit exceeded")
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reject(conn, types.CodeBadRequest, "malformed message")
			continue
		}
		if err := env.Validate(); err != nil {
			h.reject(conn, types.CodeBadRequest, err.Error())
			continue
		}

		// The sender and session are whatever the socket authenticated as,
		// regardless of what the envelope claims.
		env.From = conn.ParticipantID()
		if env.SessionID == "" {
			env.SessionID = conn.SessionID()
		}

		h.hub.Dispatch(conn, &env)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) reject(conn *Connection, code, message string) {
	env := types.NewEnvelope(types.MessageTypeError, types.ErrorPayload{Code: code, Message: message})
	if err := conn.WriteJSON(env); err != nil {
		h.log.Debug("failed to deliver rejection",
			zap.String("participant", conn.ParticipantID()), zap.Error(err))
	}
}
