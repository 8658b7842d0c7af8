// ABOUTME: Store interface and data types for concierge-gateway persistence
// ABOUTME: Defines Conversation, Message, Interaction structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose ID already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrConversationEnded is returned when appending to a conversation that was already closed
var ErrConversationEnded = errors.New("conversation already ended")

// Conversation represents a guest chat session with the concierge system.
// Conversations are never deleted by the gateway; retention is an external policy.
type Conversation struct {
	ID        string
	SessionID string
	UserID    string // optional, empty for anonymous guests
	StartedAt time.Time
	EndedAt   *time.Time
	Active    bool
}

// Message represents a single message within a conversation.
// Sequence numbers are gapless and strictly increasing per conversation,
// assigned by the store at write time.
type Message struct {
	ID             string
	ConversationID string
	FromUser       bool
	Content        string
	AgentType      string // empty for user messages
	Sequence       int64
	Metadata       string // optional JSON blob
	Sensitive      bool
	CreatedAt      time.Time
}

// Interaction records one orchestration pass against a conversation.
// Append-only, never mutated.
type Interaction struct {
	ID             string
	ConversationID string
	AgentType      string
	Action         string
	Success        bool
	Duration       time.Duration
	ErrorText      string // empty on success
	Context        string // free-form, typically the raw user message on failure
	Confidence     float64
	CreatedAt      time.Time
}

// Store defines the interface for conversation, message, and interaction persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	EndConversation(ctx context.Context, id string, endedAt time.Time) error
	ListActiveConversations(ctx context.Context, limit int) ([]*Conversation, error)
	ListIdleConversations(ctx context.Context, before time.Time, limit int) ([]*Conversation, error)

	// Messages. AppendMessage assigns msg.Sequence as (max existing + 1) for the
	// conversation and returns the assigned value.
	AppendMessage(ctx context.Context, msg *Message) (int64, error)
	ListMessages(ctx context.Context, conversationID string, limit int, ascending bool) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int64, error)

	// Interactions
	AppendInteraction(ctx context.Context, rec *Interaction) error
	ListRecentInteractions(ctx context.Context, conversationID string, limit int) ([]*Interaction, error)

	// Close releases any resources held by the store
	Close() error
}
