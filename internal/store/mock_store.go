// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// Individual operations can be made to fail via the Fail* error fields.
type MockStore struct {
	mu           sync.RWMutex
	convs        map[string]*Conversation
	messages     map[string][]*Message     // keyed by conversation ID, in sequence order
	interactions map[string][]*Interaction // keyed by conversation ID, append order

	// Error injection. When set, the corresponding operation returns the error.
	FailGetConversation error
	FailAppendMessage   error
	FailListMessages    error
	FailInteraction     error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		convs:        make(map[string]*Conversation),
		messages:     make(map[string][]*Message),
		interactions: make(map[string][]*Interaction),
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.convs[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	c := *conv
	m.convs[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailGetConversation != nil {
		return nil, m.FailGetConversation
	}

	c, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// EndConversation marks a conversation inactive.
func (m *MockStore) EndConversation(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[id]
	if !ok {
		return ErrNotFound
	}
	if !c.Active {
		return ErrConversationEnded
	}
	c.Active = false
	t := endedAt
	c.EndedAt = &t
	return nil
}

// ListActiveConversations returns active conversations newest first.
func (m *MockStore) ListActiveConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.convs {
		if c.Active {
			result := *c
			convs = append(convs, &result)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].StartedAt.After(convs[j].StartedAt) })
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// ListIdleConversations returns active conversations with no activity after the cutoff.
func (m *MockStore) ListIdleConversations(ctx context.Context, before time.Time, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.convs {
		if !c.Active {
			continue
		}
		last := c.StartedAt
		if msgs := m.messages[c.ID]; len(msgs) > 0 {
			last = msgs[len(msgs)-1].CreatedAt
		}
		if !last.After(before) {
			result := *c
			convs = append(convs, &result)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].StartedAt.Before(convs[j].StartedAt) })
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// AppendMessage assigns the next sequence number and stores the message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppendMessage != nil {
		return 0, m.FailAppendMessage
	}

	if c, ok := m.convs[msg.ConversationID]; ok && !c.Active {
		return 0, ErrConversationEnded
	}

	msgs := m.messages[msg.ConversationID]
	var seq int64 = 1
	if len(msgs) > 0 {
		seq = msgs[len(msgs)-1].Sequence + 1
	}

	stored := *msg
	stored.Sequence = seq
	m.messages[msg.ConversationID] = append(msgs, &stored)
	msg.Sequence = seq
	return seq, nil
}

// ListMessages returns messages for a conversation.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int, ascending bool) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailListMessages != nil {
		return nil, m.FailListMessages
	}

	msgs := m.messages[conversationID]
	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		copied := *msg
		result = append(result, &copied)
	}

	if !ascending {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
		if limit > 0 && len(result) > limit {
			result = result[:limit]
		}
		return result, nil
	}

	// Ascending keeps the most recent N in chronological order
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// CountMessages returns the number of messages in a conversation.
func (m *MockStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.messages[conversationID])), nil
}

// AppendInteraction stores an interaction record.
func (m *MockStore) AppendInteraction(ctx context.Context, rec *Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInteraction != nil {
		return m.FailInteraction
	}

	stored := *rec
	m.interactions[rec.ConversationID] = append(m.interactions[rec.ConversationID], &stored)
	return nil
}

// ListRecentInteractions returns interactions for a conversation, newest first.
func (m *MockStore) ListRecentInteractions(ctx context.Context, conversationID string, limit int) ([]*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.interactions[conversationID]
	result := make([]*Interaction, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		copied := *recs[i]
		result = append(result, &copied)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Interactions returns all stored interactions for a conversation in append
// order. Test helper, not part of the Store interface.
func (m *MockStore) Interactions(conversationID string) []*Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.interactions[conversationID]
	result := make([]*Interaction, len(recs))
	for i, rec := range recs {
		copied := *rec
		result[i] = &copied
	}
	return result
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error { return nil }

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
