// ABOUTME: Tests for the orchestration pass and its never-fail contract
// ABOUTME: Exercises routing, sequence assignment, degraded passes, and interaction records

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/concierge-gateway/internal/agent"
	"github.com/harborview/concierge-gateway/internal/intent"
	"github.com/harborview/concierge-gateway/internal/store"
)

func newTestService(t *testing.T, st MessageStore) *Service {
	t.Helper()
	classifier := intent.NewClassifier(nil, nil)
	generator := agent.NewGenerator(nil, nil, nil)
	contexts := NewContextBuilder(st, 20, 10, nil)
	return New(st, classifier, generator, contexts, nil)
}

func TestProcessMessage_BookingHappyPath(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		SessionID:      "sess-1",
		Text:           "I'd like to book a room for 2 guests",
	})

	require.NotNil(t, reply)
	assert.Equal(t, "conv-1", reply.ConversationID)
	assert.Equal(t, agent.TypeBooking, reply.AgentType)
	assert.Equal(t, intent.IntentBooking, reply.Intent)
	assert.False(t, reply.HasError)
	assert.NotEmpty(t, reply.Text)
	assert.InDelta(t, 0.7, reply.Confidence, 1e-9)

	// guest message then agent reply, gapless from 1
	assert.Equal(t, int64(1), reply.UserSequence)
	assert.Equal(t, int64(2), reply.Sequence)

	msgs, err := st.ListMessages(context.Background(), "conv-1", 10, true)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].FromUser)
	assert.Equal(t, "I'd like to book a room for 2 guests", msgs[0].Content)
	assert.False(t, msgs[1].FromUser)
	assert.Equal(t, string(agent.TypeBooking), msgs[1].AgentType)
	assert.Equal(t, reply.Text, msgs[1].Content)

	recs := st.Interactions("conv-1")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "process_message", recs[0].Action)
	assert.Equal(t, string(agent.TypeBooking), recs[0].AgentType)
	assert.Empty(t, recs[0].Context)
}

func TestProcessMessage_UnrecognizedText_CannedGeneralReply(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "asdkjh qweoiu",
	})

	assert.Equal(t, agent.TypeGeneral, reply.AgentType)
	assert.Equal(t, intent.IntentGeneral, reply.Intent)
	assert.Equal(t, agent.NewGenerator(nil, nil, nil).Fallback(agent.TypeGeneral), reply.Text)
	assert.InDelta(t, 0.5, reply.Confidence, 1e-9)
	assert.False(t, reply.HasError)
}

func TestProcessMessage_ContinuityStaysWithLastAgent(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	first := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "I need to book a suite",
	})
	require.Equal(t, agent.TypeBooking, first.AgentType)

	// a general follow-up sticks with the agent already helping
	second := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "thanks, what time?",
	})
	assert.Equal(t, intent.IntentGeneral, second.Intent)
	assert.Equal(t, agent.TypeBooking, second.AgentType)

	// sequences keep climbing without gaps across passes
	assert.Equal(t, int64(3), second.UserSequence)
	assert.Equal(t, int64(4), second.Sequence)
}

func TestProcessMessage_SpecificIntentSwitchesAgent(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	first := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "reserve a room for friday",
	})
	require.Equal(t, agent.TypeBooking, first.AgentType)

	second := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "also send up some fresh towels",
	})
	assert.Equal(t, agent.TypeHousekeeping, second.AgentType)
}

func TestProcessMessage_PersistenceFailure_StillReplies(t *testing.T) {
	st := store.NewMockStore()
	st.FailAppendMessage = errors.New("disk full")
	svc := newTestService(t, st)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "book a room",
	})

	require.NotNil(t, reply)
	assert.False(t, reply.HasError, "a degraded pass must not flag the reply")
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, int64(0), reply.UserSequence)
	assert.Equal(t, int64(0), reply.Sequence)

	recs := st.Interactions("conv-1")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Contains(t, recs[0].ErrorText, "disk full")
	assert.Equal(t, "book a room", recs[0].Context)
}

func TestProcessMessage_StoreDown_StillReplies(t *testing.T) {
	st := store.NewMockStore()
	st.FailGetConversation = errors.New("database is locked")
	st.FailAppendMessage = errors.New("database is locked")
	st.FailListMessages = errors.New("database is locked")
	svc := newTestService(t, st)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "hello there",
	})

	require.NotNil(t, reply)
	assert.False(t, reply.HasError, "the canned reply still reads as a normal reply")
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, agent.TypeGeneral, reply.AgentType)
}

// downCompleter simulates an unreachable text-generation backend.
type downCompleter struct{}

func (downCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("model offline")
}

func TestProcessMessage_GenerationFailure_SilentFallback(t *testing.T) {
	st := store.NewMockStore()
	contexts := NewContextBuilder(st, 20, 10, nil)
	svc := New(st, intent.NewClassifier(nil, nil), agent.NewGenerator(nil, downCompleter{}, nil), contexts, nil)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		Text:           "book a room",
	})

	require.NotNil(t, reply)
	assert.False(t, reply.HasError, "a canned fallback must read as a normal reply")
	assert.Equal(t, agent.TypeBooking, reply.AgentType)
	assert.Equal(t, agent.NewGenerator(nil, nil, nil).Fallback(agent.TypeBooking), reply.Text)
	assert.Equal(t, int64(2), reply.Sequence)

	recs := st.Interactions("conv-1")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Contains(t, recs[0].ErrorText, "model offline")
}

func TestProcessMessage_AllCollaboratorsDown_TerminalErrorShape(t *testing.T) {
	st := store.NewMockStore()
	st.FailGetConversation = errors.New("database is locked")
	st.FailAppendMessage = errors.New("database is locked")
	st.FailListMessages = errors.New("database is locked")
	contexts := NewContextBuilder(st, 20, 10, nil)
	svc := New(st, intent.NewClassifier(nil, nil), agent.NewGenerator(nil, downCompleter{}, nil), contexts, nil)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Text:           "book a room",
	})

	require.NotNil(t, reply)
	assert.Equal(t, agent.TypeGeneral, reply.AgentType)
	assert.Equal(t, intent.IntentError, reply.Intent)
	assert.Equal(t, 1.0, reply.Confidence)
	assert.True(t, reply.HasError)
	assert.Equal(t, "msg-1", reply.OriginalMessageID)
	assert.NotEmpty(t, reply.Text)

	recs := st.Interactions("conv-1")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, 1.0, recs[0].Confidence)
	assert.Equal(t, "book a room", recs[0].Context)
}

type panicGenerator struct{}

func (panicGenerator) Generate(ctx context.Context, userText string, agentType agent.Type, pctx agent.PromptContext) (string, error) {
	panic("generator blew up")
}

func (panicGenerator) Fallback(agentType agent.Type) string { return "" }

func TestProcessMessage_Panic_ProducesErrorReply(t *testing.T) {
	st := store.NewMockStore()
	contexts := NewContextBuilder(st, 20, 10, nil)
	svc := New(st, intent.NewClassifier(nil, nil), panicGenerator{}, contexts, nil)

	reply := svc.ProcessMessage(context.Background(), &Request{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Text:           "book a room",
	})

	require.NotNil(t, reply)
	assert.True(t, reply.HasError)
	assert.Equal(t, agent.TypeGeneral, reply.AgentType)
	assert.Equal(t, intent.IntentError, reply.Intent)
	assert.Equal(t, 1.0, reply.Confidence)
	assert.Equal(t, "msg-1", reply.OriginalMessageID)
	assert.NotEmpty(t, reply.Text)

	recs := st.Interactions("conv-1")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, 1.0, recs[0].Confidence)
}

func TestEnsureConversation_GeneratesIDWhenEmpty(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	conv, err := svc.EnsureConversation(context.Background(), "", "sess-9", "guest-9")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "sess-9", conv.SessionID)
	assert.True(t, conv.Active)
}

func TestEnsureConversation_ReusesExisting(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	first, err := svc.EnsureConversation(context.Background(), "conv-1", "sess-1", "")
	require.NoError(t, err)

	second, err := svc.EnsureConversation(context.Background(), "conv-1", "sess-other", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "sess-1", second.SessionID)
}

func TestEndConversation_BlocksFurtherAppends(t *testing.T) {
	st := store.NewMockStore()
	svc := newTestService(t, st)

	_, err := svc.EnsureConversation(context.Background(), "conv-1", "sess-1", "")
	require.NoError(t, err)
	require.NoError(t, svc.EndConversation(context.Background(), "conv-1"))

	_, err = st.AppendMessage(context.Background(), &store.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		FromUser:       true,
		Content:        "hello",
		CreatedAt:      time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrConversationEnded)
}
