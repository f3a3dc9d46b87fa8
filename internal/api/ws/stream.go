package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/id"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const (
	// DefaultPackage is reported as the session owner when the client names none
	DefaultPackage = "smartspacer.stream"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 16 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API listens on loopback
	},
}

// Sessions is the part of the session manager a stream drives
type Sessions interface {
	OnCreateSession(ctx context.Context, cfg types.SessionConfig, sessionID string) error
	OnDestroySession(ctx context.Context, sessionID string)
	NotifyEvent(ctx context.Context, sessionID string, event types.SessionEvent) error
	RequestUpdate(ctx context.Context, sessionID string) error
	Subscribe(sessionID string) (<-chan []types.Target, func())
}

// Message is what clients send over the stream
type Message struct {
	Type  string              `json:"type"`
	Event *types.SessionEvent `json:"event,omitempty"`
}

// Handler streams the emissions of a session created for each connection
type Handler struct {
	sessions Sessions
	logger   *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions Sessions, logger *logging.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger.Component("ws"),
	}
}

// frameWriter is the write side of a websocket
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// conn serialises writes to one websocket
type conn struct {
	ws frameWriter
	mu sync.Mutex
}

func (c *conn) send(data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(data)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *conn) sendError(msg string) error {
	return c.send(gin.H{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}

// HandleStream upgrades the connection and renders the requested surface
// until the client disconnects. Only the homescreen and lockscreen can be
// streamed.
func (h *Handler) HandleStream(c *gin.Context) {
	surface := types.ParseSurface(c.Param("surface"))
	if surface.Kind() != types.SessionKindNormal || surface == types.SurfaceUnknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only home and lock can be streamed"})
		return
	}
	count, _ := strconv.Atoi(c.Query("count"))
	pkg := c.DefaultQuery("package", DefaultPackage)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	conn := &conn{ws: ws}

	// every connection owns its session, so pruning never touches another stream
	sessionID := id.NewSessionID("ws-" + uuid.NewString()).String()
	logger := h.logger.With(zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// subscribe first so the initial emission is not missed
	updates, unsubscribe := h.sessions.Subscribe(sessionID)
	defer unsubscribe()

	cfg := types.SessionConfig{PackageName: pkg, Surface: surface, TargetCount: count}
	if err := h.sessions.OnCreateSession(ctx, cfg, sessionID); err != nil {
		if werr := conn.sendError(err.Error()); werr != nil {
			logger.Debug("Stream write failed", zap.Error(werr))
		}
		return
	}
	defer h.sessions.OnDestroySession(context.Background(), sessionID)
	logger.Info("Stream opened", zap.String("surface", surface.String()))

	go h.read(ctx, cancel, ws, conn, sessionID)
	h.serve(ctx, conn, gin.H{
		"type":       "session",
		"session_id": sessionID,
		"surface":    surface,
		"timestamp":  time.Now().Unix(),
	}, updates, logger)
}

// serve announces the session and forwards its emissions. It returns when ctx
// ends, the session goes away or any write fails.
func (h *Handler) serve(ctx context.Context, conn *conn, hello gin.H, updates <-chan []types.Target, logger *logging.Logger) {
	if err := conn.send(hello); err != nil {
		logger.Debug("Stream write failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stream closed")
			return
		case targets, ok := <-updates:
			if !ok {
				_ = conn.sendError("session destroyed")
				return
			}
			if err := conn.send(gin.H{
				"type":      "targets",
				"targets":   targets,
				"count":     len(targets),
				"timestamp": time.Now().Unix(),
			}); err != nil {
				logger.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

// read handles client messages until the connection fails
func (h *Handler) read(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, conn *conn, sessionID string) {
	defer cancel()

	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		if err := h.handle(ctx, conn, sessionID, msg); err != nil {
			h.logger.Debug("WebSocket write error", zap.Error(err))
			return
		}
	}
}

// handle applies one client message. Only a failed write is returned.
func (h *Handler) handle(ctx context.Context, conn *conn, sessionID string, msg Message) error {
	switch msg.Type {
	case "event":
		if msg.Event == nil {
			return conn.sendError("event is required")
		}
		if err := h.sessions.NotifyEvent(ctx, sessionID, *msg.Event); err != nil {
			return conn.sendError(err.Error())
		}
	case "update":
		if err := h.sessions.RequestUpdate(ctx, sessionID); err != nil {
			return conn.sendError(err.Error())
		}
	case "ping":
		return conn.send(gin.H{"type": "pong"})
	default:
		return conn.sendError("unknown message type")
	}
	return nil
}
