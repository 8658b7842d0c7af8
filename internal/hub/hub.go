// ABOUTME: Connection hub tracking live connections, conversation groups, and broadcasts
// ABOUTME: One worker goroutine per active conversation serializes its message passes

package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/harborview/concierge-gateway/internal/conversation"
)

// workerQueueSize is the job buffer per conversation worker. A full queue
// rejects the send rather than blocking the caller.
const workerQueueSize = 64

// ErrNotConnected is returned for operations on an unknown connection id.
var ErrNotConnected = errors.New("connection not registered")

// ErrNotJoined is returned when an operation requires a joined conversation.
var ErrNotJoined = errors.New("connection has not joined a conversation")

// ErrQueueFull is returned when a conversation's worker queue is saturated.
var ErrQueueFull = errors.New("conversation queue full")

// ErrClosed is returned for operations on a closed hub.
var ErrClosed = errors.New("hub closed")

// Conn is one live client connection. Send must not block indefinitely;
// transport bindings buffer and drop rather than stall the hub.
type Conn interface {
	ID() string
	Send(ev *Event) error
}

// Processor runs the orchestration pass for guest messages
type Processor interface {
	ProcessMessage(ctx context.Context, req *conversation.Request) *conversation.Reply
}

// Deduper suppresses resent client message ids. Forget releases a mark taken
// by Seen when the send was never actually scheduled.
type Deduper interface {
	Seen(conversationID, messageID string) bool
	Forget(conversationID, messageID string)
}

// Renderer converts agent reply text to HTML for browser clients
type Renderer interface {
	Render(text string) string
}

type connState struct {
	conn           Conn
	conversationID string // empty until joined
	userID         string
	sessionID      string
}

// worker owns the send pipeline for one conversation. Jobs run in arrival
// order on a single goroutine, so typing and reply events from different
// senders never interleave within a conversation.
type worker struct {
	jobs    chan func()
	stopped bool // guarded by the hub mutex
}

// Hub is the registry of live connections and conversation groups.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*connState
	groups  map[string]map[string]Conn // conversationID -> connID -> conn
	workers map[string]*worker

	processor Processor
	dedupe    Deduper  // nil disables duplicate suppression
	renderer  Renderer // nil disables HTML rendering
	logger    *slog.Logger

	wg     sync.WaitGroup
	closed bool
}

// New creates a hub. dedupe and renderer may be nil; pass nil logger for default.
func New(processor Processor, dedupe Deduper, renderer Renderer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:     make(map[string]*connState),
		groups:    make(map[string]map[string]Conn),
		workers:   make(map[string]*worker),
		processor: processor,
		dedupe:    dedupe,
		renderer:  renderer,
		logger:    logger.With("component", "hub"),
	}
}

// Connect registers a connection and acknowledges to the caller only.
func (h *Hub) Connect(conn Conn, sessionID string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.conns[conn.ID()] = &connState{conn: conn, sessionID: sessionID}
	h.mu.Unlock()

	h.logger.Debug("connection registered", "connection_id", conn.ID())
	h.sendTo(conn, &Event{Type: EventConnectionAck, ConnectionID: conn.ID()})
	return nil
}

// Disconnect removes a connection and its group membership. An in-flight
// pass for its conversation still completes; the departed connection simply
// misses the broadcast. No event reaches other group members.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	if state.conversationID != "" {
		h.removeFromGroupLocked(state.conversationID, connID)
	}
	h.mu.Unlock()

	h.logger.Debug("connection removed", "connection_id", connID)
}

// Join adds the connection to a conversation's broadcast group and
// acknowledges to the caller only. A connection tracks at most one
// conversation; joining another leaves the previous group first.
func (h *Hub) Join(connID, conversationID, userID string) error {
	h.mu.Lock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}
	if prev := state.conversationID; prev != "" && prev != conversationID {
		h.removeFromGroupLocked(prev, connID)
	}
	state.conversationID = conversationID
	state.userID = userID
	group, ok := h.groups[conversationID]
	if !ok {
		group = make(map[string]Conn)
		h.groups[conversationID] = group
	}
	group[connID] = state.conn
	conn := state.conn
	h.mu.Unlock()

	h.logger.Debug("joined conversation",
		"connection_id", connID,
		"conversation_id", conversationID)
	h.sendTo(conn, &Event{Type: EventConversationJoined, ConversationID: conversationID})
	return nil
}

// Leave removes the connection from its conversation group and acknowledges
// to the caller only.
func (h *Hub) Leave(connID string) error {
	h.mu.Lock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}
	conversationID := state.conversationID
	if conversationID == "" {
		h.mu.Unlock()
		return ErrNotJoined
	}
	state.conversationID = ""
	state.userID = ""
	h.removeFromGroupLocked(conversationID, connID)
	conn := state.conn
	h.mu.Unlock()

	h.logger.Debug("left conversation",
		"connection_id", connID,
		"conversation_id", conversationID)
	h.sendTo(conn, &Event{Type: EventConversationLeft, ConversationID: conversationID})
	return nil
}

// SendMessage acknowledges receipt to the caller and schedules the
// orchestration pass on the conversation's worker. The worker broadcasts
// agent-typing, runs the pass, stops typing, and broadcasts the reply to the
// whole group. A duplicate message id is re-acked and not reprocessed; a send
// rejected with ErrQueueFull leaves the id unmarked so a retry is processed.
func (h *Hub) SendMessage(connID, text, messageID string) error {
	h.mu.Lock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}
	conversationID := state.conversationID
	if conversationID == "" {
		h.mu.Unlock()
		return ErrNotJoined
	}
	conn := state.conn
	userID := state.userID
	sessionID := state.sessionID

	if h.dedupe != nil && h.dedupe.Seen(conversationID, messageID) {
		h.mu.Unlock()
		h.logger.Debug("duplicate message suppressed",
			"conversation_id", conversationID,
			"message_id", messageID)
		h.sendTo(conn, &Event{
			Type:           EventMessageAck,
			ConversationID: conversationID,
			MessageID:      messageID,
		})
		return nil
	}

	job := func() {
		h.runPass(conn, conversationID, sessionID, userID, text, messageID)
	}
	if err := h.enqueueLocked(conversationID, job); err != nil {
		// Release the dedupe mark so the client's retry is not swallowed
		// as a duplicate of a message that was never scheduled.
		if h.dedupe != nil {
			h.dedupe.Forget(conversationID, messageID)
		}
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	h.sendTo(conn, &Event{
		Type:           EventMessageAck,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	return nil
}

// TypingIndicator relays a guest typing signal to every other group member.
// Ephemeral: no persistence, no delivery guarantee.
func (h *Hub) TypingIndicator(connID string, isTyping bool) error {
	h.mu.RLock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.RUnlock()
		return ErrNotConnected
	}
	conversationID := state.conversationID
	if conversationID == "" {
		h.mu.RUnlock()
		return ErrNotJoined
	}
	targets := h.groupExceptLocked(conversationID, connID)
	h.mu.RUnlock()

	ev := &Event{
		Type:           EventTyping,
		ConversationID: conversationID,
		ConnectionID:   connID,
		Typing:         isTyping,
	}
	for _, c := range targets {
		h.sendTo(c, ev)
	}
	return nil
}

// Status replies to the caller only with the live connection count for its
// conversation.
func (h *Hub) Status(connID string) error {
	h.mu.RLock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.RUnlock()
		return ErrNotConnected
	}
	conversationID := state.conversationID
	if conversationID == "" {
		h.mu.RUnlock()
		return ErrNotJoined
	}
	count := len(h.groups[conversationID])
	conn := state.conn
	h.mu.RUnlock()

	h.sendTo(conn, &Event{
		Type:              EventConversationStatus,
		ConversationID:    conversationID,
		ActiveConnections: count,
	})
	return nil
}

// ConnectionCount returns the number of live connections in a conversation's
// group. Used by the idle reaper to skip conversations someone is watching.
func (h *Hub) ConnectionCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[conversationID])
}

// Close stops all conversation workers and waits for in-flight passes to
// finish. Connections are left to their transport to tear down.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for conversationID, w := range h.workers {
		h.stopWorkerLocked(conversationID, w)
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Debug("hub closed")
}

// runPass executes one orchestration pass on the conversation worker. Any
// failure after the typing-start broadcast stops typing and reports to the
// sender only.
func (h *Hub) runPass(sender Conn, conversationID, sessionID, userID, text, messageID string) {
	h.broadcast(conversationID, &Event{
		Type:           EventAgentTyping,
		ConversationID: conversationID,
		Typing:         true,
	})
	defer h.broadcast(conversationID, &Event{
		Type:           EventAgentTyping,
		ConversationID: conversationID,
		Typing:         false,
	})

	reply := h.processor.ProcessMessage(context.Background(), &conversation.Request{
		ConversationID: conversationID,
		SessionID:      sessionID,
		UserID:         userID,
		MessageID:      messageID,
		Text:           text,
	})
	if reply == nil {
		h.logger.Error("processor returned no reply", "conversation_id", conversationID)
		h.sendTo(sender, &Event{
			Type:           EventMessageError,
			ConversationID: conversationID,
			MessageID:      messageID,
			Error:          "message could not be processed",
		})
		return
	}

	ev := &Event{
		Type:              EventAgentMessage,
		ConversationID:    conversationID,
		MessageID:         reply.MessageID,
		OriginalMessageID: reply.OriginalMessageID,
		AgentType:         string(reply.AgentType),
		Intent:            string(reply.Intent),
		Text:              reply.Text,
		Confidence:        reply.Confidence,
		Sequence:          reply.Sequence,
		ErrorFlag:         reply.HasError,
	}
	if h.renderer != nil {
		ev.HTML = h.renderer.Render(reply.Text)
	}
	h.broadcast(conversationID, ev)
}

// enqueueLocked schedules a job on the conversation worker, creating one on
// first use. Must be called with mu held.
func (h *Hub) enqueueLocked(conversationID string, job func()) error {
	if h.closed {
		return ErrClosed
	}
	w, ok := h.workers[conversationID]
	if !ok || w.stopped {
		w = &worker{jobs: make(chan func(), workerQueueSize)}
		h.workers[conversationID] = w
		h.wg.Add(1)
		go h.runWorker(conversationID, w)
	}
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (h *Hub) runWorker(conversationID string, w *worker) {
	defer h.wg.Done()
	for job := range w.jobs {
		job()
	}
	h.logger.Debug("conversation worker stopped", "conversation_id", conversationID)
}

// removeFromGroupLocked drops a connection from a group and stops the
// conversation worker once the group is empty. Queued jobs still drain.
// Must be called with mu held.
func (h *Hub) removeFromGroupLocked(conversationID, connID string) {
	group, ok := h.groups[conversationID]
	if !ok {
		return
	}
	delete(group, connID)
	if len(group) > 0 {
		return
	}
	delete(h.groups, conversationID)
	if w, ok := h.workers[conversationID]; ok {
		h.stopWorkerLocked(conversationID, w)
	}
}

// stopWorkerLocked closes the worker queue exactly once. Must be called with
// mu held.
func (h *Hub) stopWorkerLocked(conversationID string, w *worker) {
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.jobs)
	delete(h.workers, conversationID)
}

// groupExceptLocked snapshots a group minus one member. Must be called with
// mu held (read lock suffices).
func (h *Hub) groupExceptLocked(conversationID, exceptID string) []Conn {
	group := h.groups[conversationID]
	targets := make([]Conn, 0, len(group))
	for id, c := range group {
		if id == exceptID {
			continue
		}
		targets = append(targets, c)
	}
	return targets
}

// broadcast sends an event to every live member of a conversation group. A
// vanished group is a no-op; individual send failures are logged, never
// propagated.
func (h *Hub) broadcast(conversationID string, ev *Event) {
	h.mu.RLock()
	group := h.groups[conversationID]
	targets := make([]Conn, 0, len(group))
	for _, c := range group {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendTo(c, ev)
	}
}

func (h *Hub) sendTo(conn Conn, ev *Event) {
	if err := conn.Send(ev); err != nil {
		h.logger.Debug("send failed",
			"connection_id", conn.ID(),
			"event_type", ev.Type,
			"error", err)
	}
}
