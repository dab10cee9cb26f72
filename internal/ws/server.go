// Package ws provides the websocket endpoint and HTTP handlers for the
// conversation engine.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/convoychat/convoy/internal/protocol"
	"github.com/convoychat/convoy/internal/session"
)

// Server handles websocket connections.
type Server struct {
	manager        *session.Manager
	maxMessageSize int64
	upgrader       websocket.Upgrader
}

// NewServer creates a new websocket server.
func NewServer(manager *session.Manager, maxMessageSize int64) *Server {
	return &Server{
		manager:        manager,
		maxMessageSize: maxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is a host concern
				return true
			},
		},
	}
}

// Register adds the engine's routes to the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/", s.handleRoot)
	e.GET("/health", s.handleHealth)
	e.GET("/ws/session/:session_id", s.HandleWebSocket)
}

// handleRoot serves the service banner.
func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":            "Real-Time AI Conversation Backend",
		"version":            "1.0.0",
		"websocket_endpoint": "/ws/session/{session_id}",
	})
}

// handleHealth serves the health check.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"active_sessions": s.manager.ActiveSessions(),
	})
}

// HandleWebSocket upgrades the connection and binds it to the caller-supplied
// session identifier.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.Param("session_id")
	userID := c.QueryParam("user_id")

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade websocket: %v", err)
		return err
	}

	conn := &Conn{ws: ws}
	ws.SetReadLimit(s.maxMessageSize)

	if err := s.manager.Connect(c.Request().Context(), sessionID, userID, conn); err != nil {
		// Duplicate or already torn-down identifier: tell the client, then
		// close without touching session state.
		if sendErr := conn.Send(protocol.Error(err.Error())); sendErr != nil {
			log.Printf("WARN: failed to send connect error: %v", sendErr)
		}
		ws.Close()
		return nil
	}

	go s.readPump(sessionID, conn)
	return nil
}

// readPump reads frames from the connection and dispatches them to the
// session manager, strictly sequentially: the next frame is not read until
// the prior turn reaches done or error. Any read error, client-initiated or
// transport, tears the session down exactly once.
func (s *Server) readPump(sessionID string, conn *Conn) {
	defer func() {
		s.manager.Disconnect(sessionID)
		conn.Close()
	}()

	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: websocket error on session %s: %v", sessionID, err)
			}
			return
		}
		s.manager.HandleInbound(context.Background(), sessionID, frame)
	}
}

// Conn wraps a websocket connection with locked writes. Token forwarding is
// synchronous with provider streaming, so a slow client throttles the
// orchestrator's consumption of the provider stream.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send writes one server event to the client.
func (c *Conn) Send(ev protocol.ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(ev)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
