// ABOUTME: Tests for hub delivery rules and per-conversation serialization
// ABOUTME: Uses in-memory connections and a scripted processor, no transport

package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/concierge-gateway/internal/agent"
	"github.com/harborview/concierge-gateway/internal/conversation"
	"github.com/harborview/concierge-gateway/internal/intent"
)

// testConn records every event it receives.
type testConn struct {
	id string

	mu     sync.Mutex
	events []*Event
}

func newTestConn(id string) *testConn { return &testConn{id: id} }

func (c *testConn) ID() string { return c.id }

func (c *testConn) Send(ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *testConn) recorded() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *testConn) typesSeen() []string {
	var types []string
	for _, ev := range c.recorded() {
		types = append(types, ev.Type)
	}
	return types
}

// waitFor polls until the connection has seen an event of the given type.
func (c *testConn) waitFor(t *testing.T, eventType string) *Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.recorded() {
			if ev.Type == eventType {
				return ev
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("connection %s never received %s (saw %v)", c.id, eventType, c.typesSeen())
	return nil
}

// scriptedProcessor returns a fixed-shape reply and records requests.
type scriptedProcessor struct {
	mu       sync.Mutex
	requests []*conversation.Request
	delay    time.Duration
}

func (p *scriptedProcessor) ProcessMessage(ctx context.Context, req *conversation.Request) *conversation.Reply {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return &conversation.Reply{
		ConversationID:    req.ConversationID,
		MessageID:         "reply-" + req.MessageID,
		OriginalMessageID: req.MessageID,
		AgentType:         agent.TypeGeneral,
		Intent:            intent.IntentGeneral,
		Text:              "echo: " + req.Text,
		Confidence:        0.5,
	}
}

func (p *scriptedProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDeduper) Seen(conversationID, messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := conversationID + "/" + messageID
	if d.seen[key] {
		return true
	}
	d.seen[key] = true
	return false
}

func (d *fakeDeduper) Forget(conversationID, messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, conversationID+"/"+messageID)
}

// gatedProcessor blocks every pass until the gate is closed.
type gatedProcessor struct {
	mu       sync.Mutex
	requests []*conversation.Request
	started  chan struct{}
	once     sync.Once
	gate     chan struct{}
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (p *gatedProcessor) ProcessMessage(ctx context.Context, req *conversation.Request) *conversation.Reply {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	p.once.Do(func() { close(p.started) })
	<-p.gate
	return &conversation.Reply{
		ConversationID:    req.ConversationID,
		OriginalMessageID: req.MessageID,
		AgentType:         agent.TypeGeneral,
		Intent:            intent.IntentGeneral,
		Text:              "echo: " + req.Text,
		Confidence:        0.5,
	}
}

func (p *gatedProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *gatedProcessor) sawMessageID(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.requests {
		if req.MessageID == messageID {
			return true
		}
	}
	return false
}

func TestConnect_AckToCallerOnly(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	b := newTestConn("b")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Connect(b, "sess-b"))

	assert.Equal(t, []string{EventConnectionAck}, a.typesSeen())
	assert.Equal(t, []string{EventConnectionAck}, b.typesSeen())
}

func TestSendMessage_GroupGetsReply_OnlySenderGetsAck(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	b := newTestConn("b")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Connect(b, "sess-b"))
	require.NoError(t, h.Join("a", "conv-1", "guest-a"))
	require.NoError(t, h.Join("b", "conv-1", "guest-b"))

	require.NoError(t, h.SendMessage("a", "hello there", "msg-1"))

	replyA := a.waitFor(t, EventAgentMessage)
	replyB := b.waitFor(t, EventAgentMessage)
	assert.Equal(t, "echo: hello there", replyA.Text)
	assert.Equal(t, "msg-1", replyA.OriginalMessageID)
	assert.Equal(t, replyA.Text, replyB.Text)

	a.waitFor(t, EventMessageAck)
	for _, ev := range b.recorded() {
		assert.NotEqual(t, EventMessageAck, ev.Type, "non-sender must not receive the ack")
	}
}

func TestSendMessage_TypingBracketsReply(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.SendMessage("a", "hi", "msg-1"))

	a.waitFor(t, EventAgentMessage)

	var typingOn, reply, typingOff = -1, -1, -1
	for i, ev := range a.recorded() {
		switch {
		case ev.Type == EventAgentTyping && ev.Typing:
			typingOn = i
		case ev.Type == EventAgentMessage:
			reply = i
		case ev.Type == EventAgentTyping && !ev.Typing:
			typingOff = i
		}
	}
	require.GreaterOrEqual(t, typingOn, 0)
	require.GreaterOrEqual(t, reply, 0)

	assert.Less(t, typingOn, reply)
	if typingOff >= 0 {
		assert.Less(t, typingOn, typingOff)
	}
}

func TestSendMessage_NotJoined(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	assert.ErrorIs(t, h.SendMessage("a", "hi", "msg-1"), ErrNotJoined)
	assert.ErrorIs(t, h.SendMessage("ghost", "hi", "msg-1"), ErrNotConnected)
}

func TestSendMessage_DuplicateIsReackedNotReprocessed(t *testing.T) {
	proc := &scriptedProcessor{}
	h := New(proc, &fakeDeduper{}, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Join("a", "conv-1", ""))

	require.NoError(t, h.SendMessage("a", "hello", "msg-1"))
	a.waitFor(t, EventAgentMessage)
	require.NoError(t, h.SendMessage("a", "hello", "msg-1"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, proc.count())

	acks := 0
	for _, ev := range a.recorded() {
		if ev.Type == EventMessageAck {
			acks++
		}
	}
	assert.Equal(t, 2, acks)
}

func TestSendMessage_QueueFullRetryIsProcessed(t *testing.T) {
	proc := newGatedProcessor()
	h := New(proc, &fakeDeduper{}, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Join("a", "conv-1", ""))

	// First send occupies the worker; once it is running, exactly
	// workerQueueSize more fit in the queue.
	require.NoError(t, h.SendMessage("a", "warmup", "msg-0"))
	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first pass")
	}
	for i := 1; i <= workerQueueSize; i++ {
		require.NoError(t, h.SendMessage("a", "filler", fmt.Sprintf("msg-%d", i)))
	}

	require.ErrorIs(t, h.SendMessage("a", "important", "msg-X"), ErrQueueFull)

	close(proc.gate)
	deadline := time.Now().Add(2 * time.Second)
	for proc.count() < workerQueueSize+1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, workerQueueSize+1, proc.count())

	// The rejected id must not be poisoned: the retry is accepted and
	// actually reaches the processor instead of being re-acked as a
	// duplicate.
	require.NoError(t, h.SendMessage("a", "important", "msg-X"))
	deadline = time.Now().Add(2 * time.Second)
	for !proc.sawMessageID("msg-X") && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, proc.sawMessageID("msg-X"), "retried message never reached the processor")
}

func TestSendMessage_SerializedPerConversation(t *testing.T) {
	proc := &scriptedProcessor{delay: 5 * time.Millisecond}
	h := New(proc, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	b := newTestConn("b")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Connect(b, "sess-b"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.Join("b", "conv-1", ""))

	const sends = 6
	for i := 0; i < sends; i++ {
		sender := "a"
		if i%2 == 1 {
			sender = "b"
		}
		require.NoError(t, h.SendMessage(sender, fmt.Sprintf("m%d", i), fmt.Sprintf("msg-%d", i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() < sends && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, sends, proc.count())

	// With one worker per conversation each pass is bracketed: typing-on
	// immediately precedes its reply, typing-off follows, never interleaved.
	depth := 0
	for _, ev := range a.recorded() {
		switch ev.Type {
		case EventAgentTyping:
			if ev.Typing {
				depth++
				assert.Equal(t, 1, depth, "typing events interleaved across passes")
			} else {
				depth--
				assert.Equal(t, 0, depth)
			}
		case EventAgentMessage:
			assert.Equal(t, 1, depth, "reply arrived outside its typing bracket")
		}
	}
}

func TestDisconnectMidProcessing_PassStillCompletes(t *testing.T) {
	proc := &scriptedProcessor{delay: 30 * time.Millisecond}
	h := New(proc, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	b := newTestConn("b")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Connect(b, "sess-b"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.Join("b", "conv-1", ""))

	require.NoError(t, h.SendMessage("a", "hello", "msg-1"))
	h.Disconnect("a")

	b.waitFor(t, EventAgentMessage)
	assert.Equal(t, 1, proc.count())
}

func TestTypingIndicator_ExcludesSender(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	b := newTestConn("b")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Connect(b, "sess-b"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.Join("b", "conv-1", ""))

	require.NoError(t, h.TypingIndicator("a", true))

	ev := b.waitFor(t, EventTyping)
	assert.True(t, ev.Typing)
	assert.Equal(t, "a", ev.ConnectionID)
	for _, ev := range a.recorded() {
		assert.NotEqual(t, EventTyping, ev.Type)
	}
}

func TestStatus_CallerOnlyWithLiveCount(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	b := newTestConn("b")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Connect(b, "sess-b"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.Join("b", "conv-1", ""))

	require.NoError(t, h.Status("a"))
	ev := a.waitFor(t, EventConversationStatus)
	assert.Equal(t, 2, ev.ActiveConnections)
	for _, ev := range b.recorded() {
		assert.NotEqual(t, EventConversationStatus, ev.Type)
	}

	assert.Equal(t, 2, h.ConnectionCount("conv-1"))
	assert.Equal(t, 0, h.ConnectionCount("conv-other"))
}

func TestJoin_ReplacesPreviousConversation(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.Join("a", "conv-2", ""))

	assert.Equal(t, 0, h.ConnectionCount("conv-1"))
	assert.Equal(t, 1, h.ConnectionCount("conv-2"))
}

func TestLeave_RemovesFromGroup(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)
	defer h.Close()

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	require.NoError(t, h.Leave("a"))

	a.waitFor(t, EventConversationLeft)
	assert.Equal(t, 0, h.ConnectionCount("conv-1"))
	assert.ErrorIs(t, h.Leave("a"), ErrNotJoined)
}

func TestClose_RejectsNewWork(t *testing.T) {
	h := New(&scriptedProcessor{}, nil, nil, nil)

	a := newTestConn("a")
	require.NoError(t, h.Connect(a, "sess-a"))
	require.NoError(t, h.Join("a", "conv-1", ""))
	h.Close()

	assert.ErrorIs(t, h.SendMessage("a", "hi", "msg-1"), ErrClosed)
	assert.ErrorIs(t, h.Connect(newTestConn("b"), "sess-b"), ErrClosed)
}
