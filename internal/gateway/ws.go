// ABOUTME: WebSocket binding for the connection hub
// ABOUTME: Parses client commands and pumps hub events over one socket per guest

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harborview/concierge-gateway/internal/hub"
	"github.com/harborview/concierge-gateway/internal/store"
)

const (
	// outboundBufferSize is the per-connection event buffer; a client that
	// cannot drain it loses events rather than stalling the hub.
	outboundBufferSize = 64

	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway sits behind the hotel's own frontend; origin policy is
	// enforced there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// command is the client-to-server message shape.
type command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Text           string `json:"text,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	Typing         bool   `json:"typing,omitempty"`
}

// wsConn adapts one websocket to the hub.Conn interface. Events are queued
// on a buffered channel and written by a single writer goroutine.
type wsConn struct {
	id       string
	ws       *websocket.Conn
	outbound chan *hub.Event
	done     chan struct{}
	logger   *slog.Logger
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:       uuid.New().String(),
		ws:       ws,
		outbound: make(chan *hub.Event, outboundBufferSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues an event for the writer goroutine. Never blocks: a full queue
// drops the event, a closed connection reports an error.
func (c *wsConn) Send(ev *hub.Event) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.outbound <- ev:
		return nil
	default:
		c.logger.Debug("outbound queue full, dropping event",
			"connection_id", c.id,
			"event_type", ev.Type)
		return nil
	}
}

// writeLoop drains the outbound queue onto the socket until the connection
// is torn down.
func (c *wsConn) writeLoop() {
	for {
		select {
		case ev := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", "connection_id", c.id, "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.ws.Close()
}

// handleWebSocket upgrades the request and runs the connection's read loop.
// The session id comes from the session query parameter when the client has
// one, otherwise a fresh id is assigned.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	conn := newWSConn(ws, g.logger)
	if err := g.hub.Connect(conn, sessionID); err != nil {
		conn.close()
		return
	}
	go conn.writeLoop()

	g.logger.Debug("websocket connected",
		"connection_id", conn.ID(),
		"session_id", sessionID)

	defer func() {
		g.hub.Disconnect(conn.ID())
		conn.close()
		g.logger.Debug("websocket disconnected", "connection_id", conn.ID())
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("abnormal disconnect", "connection_id", conn.ID(), "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			_ = conn.Send(&hub.Event{Type: hub.EventMessageError, Error: "malformed command"})
			continue
		}
		g.dispatch(conn, sessionID, &cmd)
	}
}

// dispatch routes one client command to the hub. Hub-level failures go back
// to this connection only, as short fixed messages; the underlying error
// stays in the log.
func (g *Gateway) dispatch(conn *wsConn, sessionID string, cmd *command) {
	var err error
	switch cmd.Type {
	case "join":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resolved, ensureErr := g.conversation.EnsureConversation(ctx, cmd.ConversationID, sessionID, cmd.UserID)
		cancel()
		if ensureErr != nil {
			err = ensureErr
			break
		}
		err = g.hub.Join(conn.ID(), resolved.ID, cmd.UserID)
	case "leave":
		err = g.hub.Leave(conn.ID())
	case "send":
		err = g.hub.SendMessage(conn.ID(), cmd.Text, cmd.MessageID)
	case "typing":
		err = g.hub.TypingIndicator(conn.ID(), cmd.Typing)
	case "status":
		err = g.hub.Status(conn.ID())
	default:
		_ = conn.Send(&hub.Event{
			Type:  hub.EventMessageError,
			Error: "unknown command type: " + cmd.Type,
		})
		return
	}

	if err != nil {
		g.logger.Debug("command failed",
			"connection_id", conn.ID(),
			"command", cmd.Type,
			"error", err)
		_ = conn.Send(&hub.Event{
			Type:           hub.EventMessageError,
			ConversationID: cmd.ConversationID,
			MessageID:      cmd.MessageID,
			Error:          clientErrorText(cmd.Type, err),
		})
	}
}

// clientErrorText maps an internal failure to the short message the client
// sees. Wrapped store and hub detail never crosses the socket.
func clientErrorText(cmdType string, err error) string {
	switch {
	case errors.Is(err, hub.ErrNotJoined):
		return "join a conversation first"
	case errors.Is(err, hub.ErrNotConnected):
		return "connection is not registered"
	case errors.Is(err, hub.ErrQueueFull):
		return "conversation is busy, please try again"
	case errors.Is(err, hub.ErrClosed):
		return "server is shutting down"
	case errors.Is(err, store.ErrConversationEnded):
		return "conversation has ended"
	}
	if cmdType == "join" {
		return "could not join conversation"
	}
	return "could not process command"
}
