// ABOUTME: Orchestration pass over one guest message: classify, route, generate, record
// ABOUTME: ProcessMessage never fails; every degraded step leaves an interaction record

package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborview/concierge-gateway/internal/agent"
	"github.com/harborview/concierge-gateway/internal/intent"
	"github.com/harborview/concierge-gateway/internal/store"
)

// interactionTimeout bounds best-effort interaction writes so recording
// continues even when the request context is already cancelled.
const interactionTimeout = 5 * time.Second

// apologyReply is the reply of last resort, used only when the pass itself
// blows up before a fallback can be selected.
const apologyReply = "I'm sorry, something went wrong on our end. Please give me a moment and try again."

// Classifier defines what the service needs from intent classification
type Classifier interface {
	Classify(ctx context.Context, text, priorAgentType string) intent.Intent
}

// Generator defines what the service needs from response generation
type Generator interface {
	Generate(ctx context.Context, userText string, agentType agent.Type, pctx agent.PromptContext) (string, error)
	Fallback(agentType agent.Type) string
}

// Service runs the orchestration pass for guest messages.
type Service struct {
	store      MessageStore
	classifier Classifier
	generator  Generator
	contexts   *ContextBuilder
	logger     *slog.Logger
}

// New creates the conversation service. Pass nil logger for default.
func New(st MessageStore, classifier Classifier, generator Generator, contexts *ContextBuilder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		classifier: classifier,
		generator:  generator,
		contexts:   contexts,
		logger:     logger.With("component", "conversation"),
	}
}

// Request is one guest message entering the orchestration pass.
type Request struct {
	ConversationID string
	SessionID      string
	UserID         string
	MessageID      string // client-supplied id for the guest message, may be empty
	Text           string
}

// Reply is the outcome of one orchestration pass. It is always populated,
// even when every collaborator failed.
type Reply struct {
	ConversationID    string
	MessageID         string // id of the persisted agent message
	OriginalMessageID string // id of the guest message this answers
	AgentType         agent.Type
	Intent            intent.Intent
	Text              string
	Confidence        float64
	Sequence          int64 // sequence of the agent message, 0 when persistence failed
	UserSequence      int64 // sequence of the guest message, 0 when persistence failed

	// HasError is set only for the terminal apology reply: a panic, or a
	// pass where resolution, persistence, and generation all failed.
	// Partial failures degrade silently and are visible only in the
	// interaction record.
	HasError bool
}

// ProcessMessage runs the full pass: ensure the conversation exists, persist
// the guest message, classify, route, generate, persist the reply, and record
// the interaction.
//
// It never returns an error and never panics outward. Individual step
// failures degrade the pass (fallback reply, zero sequence) and are recorded.
// The error-intent apology reply is produced only by a panic or by a pass
// where resolution, persistence, and generation all failed at once.
func (s *Service) ProcessMessage(ctx context.Context, req *Request) (reply *Reply) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("orchestration pass panicked",
				"conversation_id", req.ConversationID,
				"panic", r)
			reply = &Reply{
				ConversationID:    req.ConversationID,
				MessageID:         uuid.New().String(),
				OriginalMessageID: req.MessageID,
				AgentType:         agent.TypeGeneral,
				Intent:            intent.IntentError,
				Text:              apologyReply,
				Confidence:        1.0,
				HasError:          true,
			}
			s.recordInteraction(&store.Interaction{
				ID:             uuid.New().String(),
				ConversationID: req.ConversationID,
				AgentType:      string(agent.TypeGeneral),
				Action:         "process_message",
				Success:        false,
				Duration:       time.Since(start),
				ErrorText:      "panic during orchestration",
				Context:        req.Text,
				Confidence:     1.0,
			})
		}
	}()

	var stepErrors []string

	conv, err := s.EnsureConversation(ctx, req.ConversationID, req.SessionID, req.UserID)
	if err != nil {
		s.logger.Error("conversation resolution failed",
			"conversation_id", req.ConversationID,
			"error", err)
		stepErrors = append(stepErrors, "ensure: "+err.Error())
	} else {
		req.ConversationID = conv.ID
	}

	cctx := s.contexts.Build(ctx, req.ConversationID)

	in := s.classifier.Classify(ctx, req.Text, string(cctx.LastAgentType))
	agentType := agent.SelectAgent(in, cctx.LastAgentType)
	confidence := intent.Confidence(req.Text, in)

	userMsgID := req.MessageID
	if userMsgID == "" {
		userMsgID = uuid.New().String()
	}
	var userSeq int64
	var userAppendErr error
	if conv != nil {
		userSeq, userAppendErr = s.store.AppendMessage(ctx, &store.Message{
			ID:             userMsgID,
			ConversationID: conv.ID,
			FromUser:       true,
			Content:        req.Text,
			CreatedAt:      time.Now(),
		})
		if userAppendErr != nil {
			s.logger.Error("guest message persistence failed",
				"conversation_id", conv.ID,
				"message_id", userMsgID,
				"error", userAppendErr)
			stepErrors = append(stepErrors, "append user: "+userAppendErr.Error())
		}
	}

	text, genErr := s.generator.Generate(ctx, req.Text, agentType, agent.PromptContext{
		StartedAt:      cctx.StartedAt,
		LastAgent:      cctx.LastAgentType,
		HasHistory:     cctx.HasHistory(),
		HasPreferences: cctx.HasPreferences,
	})
	if genErr != nil {
		stepErrors = append(stepErrors, "generate: "+genErr.Error())
	}

	agentMsgID := uuid.New().String()
	var agentSeq int64
	var agentAppendErr error
	if conv != nil {
		agentSeq, agentAppendErr = s.store.AppendMessage(ctx, &store.Message{
			ID:             agentMsgID,
			ConversationID: conv.ID,
			FromUser:       false,
			Content:        text,
			AgentType:      string(agentType),
			CreatedAt:      time.Now(),
		})
		if agentAppendErr != nil {
			s.logger.Error("agent message persistence failed",
				"conversation_id", conv.ID,
				"message_id", agentMsgID,
				"error", agentAppendErr)
			stepErrors = append(stepErrors, "append agent: "+agentAppendErr.Error())
		}
	}

	// Nothing resolved, nothing persisted, nothing generated: return the
	// terminal error shape rather than pretending the fallback is an
	// ordinary degraded reply.
	persistFailed := conv == nil || (userAppendErr != nil && agentAppendErr != nil)
	if genErr != nil && persistFailed {
		s.logger.Error("every collaborator failed in one pass",
			"conversation_id", req.ConversationID,
			"errors", strings.Join(stepErrors, "; "))
		s.recordInteraction(&store.Interaction{
			ID:             uuid.New().String(),
			ConversationID: req.ConversationID,
			AgentType:      string(agent.TypeGeneral),
			Action:         "process_message",
			Success:        false,
			Duration:       time.Since(start),
			ErrorText:      strings.Join(stepErrors, "; "),
			Context:        req.Text,
			Confidence:     1.0,
		})
		return &Reply{
			ConversationID:    req.ConversationID,
			MessageID:         agentMsgID,
			OriginalMessageID: userMsgID,
			AgentType:         agent.TypeGeneral,
			Intent:            intent.IntentError,
			Text:              apologyReply,
			Confidence:        1.0,
			HasError:          true,
		}
	}

	degraded := len(stepErrors) > 0
	s.recordInteraction(&store.Interaction{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		AgentType:      string(agentType),
		Action:         "process_message",
		Success:        !degraded,
		Duration:       time.Since(start),
		ErrorText:      strings.Join(stepErrors, "; "),
		Context:        failureContext(req.Text, degraded),
		Confidence:     confidence,
	})

	return &Reply{
		ConversationID:    req.ConversationID,
		MessageID:         agentMsgID,
		OriginalMessageID: userMsgID,
		AgentType:         agentType,
		Intent:            in,
		Text:              text,
		Confidence:        confidence,
		Sequence:          agentSeq,
		UserSequence:      userSeq,
	}
}

// EnsureConversation resolves an existing conversation or creates one. An
// empty id gets a generated UUID. A create that loses a race to a concurrent
// request falls back to the lookup, so both callers see the same conversation.
func (s *Service) EnsureConversation(ctx context.Context, id, sessionID, userID string) (*store.Conversation, error) {
	if id != "" {
		conv, err := s.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}
	} else {
		id = uuid.New().String()
	}

	conv := &store.Conversation{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: time.Now(),
		Active:    true,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if err == store.ErrDuplicateConversation {
			existing, lookupErr := s.store.GetConversation(ctx, id)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", id)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error",
				"conversation_id", id,
				"lookup_error", lookupErr)
		}
		return nil, err
	}
	s.logger.Debug("conversation created", "conversation_id", id, "session_id", sessionID)
	return conv, nil
}

// EndConversation closes a conversation. Further appends fail with
// store.ErrConversationEnded.
func (s *Service) EndConversation(ctx context.Context, id string) error {
	return s.store.EndConversation(ctx, id, time.Now())
}

// History returns up to limit most recent messages, oldest first.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit, true)
}

// recordInteraction writes the interaction record with a separate timeout
// context, so the record lands even when the request context is cancelled.
// Failures are logged and swallowed; recording never fails a pass.
func (s *Service) recordInteraction(rec *store.Interaction) {
	saveCtx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	rec.CreatedAt = time.Now()
	if err := s.store.AppendInteraction(saveCtx, rec); err != nil {
		s.logger.Error("failed to record interaction",
			"error", err,
			"conversation_id", rec.ConversationID,
			"action", rec.Action)
	}
}

// failureContext keeps the raw guest text only for failed passes.
func failureContext(text string, hasError bool) string {
	if hasError {
		return text
	}
	return ""
}
