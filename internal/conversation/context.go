// ABOUTME: Conversation context assembly for prompt building and routing
// ABOUTME: Context is rebuilt from the store on every pass; it is never cached

package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/harborview/concierge-gateway/internal/agent"
	"github.com/harborview/concierge-gateway/internal/store"
)

// MessageStore defines what the conversation layer needs from storage
type MessageStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	EndConversation(ctx context.Context, id string, endedAt time.Time) error

	AppendMessage(ctx context.Context, msg *store.Message) (int64, error)
	ListMessages(ctx context.Context, conversationID string, limit int, ascending bool) ([]*store.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int64, error)

	AppendInteraction(ctx context.Context, rec *store.Interaction) error
	ListRecentInteractions(ctx context.Context, conversationID string, limit int) ([]*store.Interaction, error)
}

// Context is the snapshot of conversation state one orchestration pass runs
// against: who helped last, when the conversation started, and whether there
// is history or stored preferences to mention.
type Context struct {
	ConversationID string
	StartedAt      time.Time
	LastAgentType  agent.Type // zero value when no agent has replied yet
	MessageCount   int64
	HasPreferences bool
	Recent         []*store.Message     // oldest first, capped at the history limit
	Interactions   []*store.Interaction // newest first, capped at the interaction limit
}

// HasHistory reports whether the guest has any prior messages.
func (c Context) HasHistory() bool {
	return c.MessageCount > 0
}

// ContextBuilder assembles Context snapshots from the store.
type ContextBuilder struct {
	store            MessageStore
	historyLimit     int
	interactionLimit int
	logger           *slog.Logger
}

// NewContextBuilder creates a builder that loads at most historyLimit recent
// messages and interactionLimit recent interaction records per snapshot.
// Pass nil logger for default.
func NewContextBuilder(st MessageStore, historyLimit, interactionLimit int, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	if interactionLimit <= 0 {
		interactionLimit = 10
	}
	return &ContextBuilder{
		store:            st,
		historyLimit:     historyLimit,
		interactionLimit: interactionLimit,
		logger:           logger.With("component", "context"),
	}
}

// Build loads the context snapshot for a conversation. It never fails: an
// unknown conversation or a store error yields an empty snapshot, so a
// degraded pass still produces a reply.
func (b *ContextBuilder) Build(ctx context.Context, conversationID string) Context {
	snapshot := Context{ConversationID: conversationID}

	conv, err := b.store.GetConversation(ctx, conversationID)
	if err != nil {
		if err != store.ErrNotFound {
			b.logger.Warn("context lookup failed, using empty snapshot",
				"conversation_id", conversationID,
				"error", err)
		}
		return snapshot
	}
	snapshot.StartedAt = conv.StartedAt

	count, err := b.store.CountMessages(ctx, conversationID)
	if err != nil {
		b.logger.Warn("message count failed", "conversation_id", conversationID, "error", err)
	} else {
		snapshot.MessageCount = count
	}

	interactions, err := b.store.ListRecentInteractions(ctx, conversationID, b.interactionLimit)
	if err != nil {
		b.logger.Warn("interaction load failed", "conversation_id", conversationID, "error", err)
	} else {
		snapshot.Interactions = interactions
	}

	recent, err := b.store.ListMessages(ctx, conversationID, b.historyLimit, true)
	if err != nil {
		b.logger.Warn("history load failed", "conversation_id", conversationID, "error", err)
		return snapshot
	}
	snapshot.Recent = recent

	// Newest agent message wins for continuity routing.
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		if msg.FromUser {
			continue
		}
		if t := agent.Type(msg.AgentType); t.Valid() {
			snapshot.LastAgentType = t
			break
		}
	}

	for _, msg := range recent {
		if hasPreferences(msg.Metadata) {
			snapshot.HasPreferences = true
			break
		}
	}

	return snapshot
}

// hasPreferences reports whether a message metadata blob carries a guest
// preferences object.
func hasPreferences(metadata string) bool {
	if metadata == "" {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &fields); err != nil {
		return false
	}
	_, ok := fields["preferences"]
	return ok
}
