// ABOUTME: Wire event vocabulary emitted by the connection hub
// ABOUTME: One JSON envelope covers acks, typing signals, replies, and status

package hub

// Event types sent to clients. Caller-only events (acks, errors, status)
// never reach other group members; agent-typing and agent-message go to the
// whole group; typing goes to every group member except the sender.
const (
	EventConnectionAck      = "connection-ack"
	EventConversationJoined = "conversation-joined"
	EventConversationLeft   = "conversation-left"
	EventMessageAck         = "message-ack"
	EventAgentTyping        = "agent-typing"
	EventAgentMessage       = "agent-message"
	EventMessageError       = "message-error"
	EventConversationStatus = "conversation-status"
	EventTyping             = "typing"
)

// Event is the JSON envelope for everything the hub emits. Fields are
// populated per type; zero values are omitted from the wire.
type Event struct {
	Type              string  `json:"type"`
	ConversationID    string  `json:"conversationId,omitempty"`
	ConnectionID      string  `json:"connectionId,omitempty"`
	MessageID         string  `json:"messageId,omitempty"`
	OriginalMessageID string  `json:"originalMessageId,omitempty"`
	AgentType         string  `json:"agentType,omitempty"`
	Intent            string  `json:"intent,omitempty"`
	Text              string  `json:"text,omitempty"`
	HTML              string  `json:"html,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	Sequence          int64   `json:"sequence,omitempty"`
	Typing            bool    `json:"typing,omitempty"`
	ActiveConnections int     `json:"activeConnections,omitempty"`
	ErrorFlag         bool    `json:"errorFlag,omitempty"`
	Error             string  `json:"error,omitempty"`
}
