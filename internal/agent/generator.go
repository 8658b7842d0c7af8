// ABOUTME: Response generation with per-agent personas and canned fallbacks
// ABOUTME: Generation failure never reaches the guest; the reply degrades silently

package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Completer is the optional text-generation collaborator. It may be nil.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PromptContext is the slice of conversation state the generator renders into
// the prompt. It is rebuilt per pass by the conversation layer.
type PromptContext struct {
	StartedAt      time.Time
	LastAgent      Type // zero value when the conversation has no agent history
	HasHistory     bool
	HasPreferences bool
}

// Generator produces agent replies for guest messages.
type Generator struct {
	profiles map[Type]Profile
	llm      Completer // nil when generation is disabled
	logger   *slog.Logger
}

// NewGenerator creates a generator over the given profile table. llm may be
// nil; pass nil logger for default.
func NewGenerator(profiles map[Type]Profile, llm Completer, logger *slog.Logger) *Generator {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		profiles: profiles,
		llm:      llm,
		logger:   logger.With("component", "generator"),
	}
}

// Generate produces a reply to userText in the voice of agentType.
//
// The returned reply is always non-empty: when the collaborator is absent,
// errors, or returns blank text, the agent's canned fallback is used instead.
// The returned error reports the degraded pass for interaction logging only
// and never indicates a bad reply.
func (g *Generator) Generate(ctx context.Context, userText string, agentType Type, pctx PromptContext) (string, error) {
	profile, ok := g.profiles[agentType]
	if !ok {
		profile = g.profiles[TypeGeneral]
	}

	if g.llm == nil {
		return profile.Fallback, nil
	}

	reply, err := g.llm.Complete(ctx, g.buildPrompt(userText, agentType, profile, pctx))
	if err != nil {
		g.logger.Warn("generation failed, using fallback",
			"agent_type", agentType,
			"error", err)
		return profile.Fallback, err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		g.logger.Warn("generation returned empty text, using fallback", "agent_type", agentType)
		return profile.Fallback, nil
	}

	return reply, nil
}

// Fallback returns the canned reply for an agent type.
func (g *Generator) Fallback(agentType Type) string {
	if profile, ok := g.profiles[agentType]; ok {
		return profile.Fallback
	}
	return g.profiles[TypeGeneral].Fallback
}

// buildPrompt renders the persona instruction plus a short context summary.
func (g *Generator) buildPrompt(userText string, agentType Type, profile Profile, pctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString(profile.SystemPrompt)
	sb.WriteString("\n\n")

	if !pctx.StartedAt.IsZero() {
		sb.WriteString("The conversation started at ")
		sb.WriteString(pctx.StartedAt.UTC().Format("15:04 MST on Jan 2"))
		sb.WriteString(".\n")
	}
	if pctx.LastAgent.Valid() && pctx.LastAgent != agentType {
		sb.WriteString("The guest was previously helped by the ")
		sb.WriteString(string(pctx.LastAgent))
		sb.WriteString(" agent.\n")
	}
	if pctx.HasHistory {
		sb.WriteString("The guest has prior messages in this conversation.\n")
	}
	if pctx.HasPreferences {
		sb.WriteString("Stored guest preferences are available for this guest.\n")
	}

	sb.WriteString("\nGuest: ")
	sb.WriteString(userText)
	sb.WriteString("\nConcierge:")
	return sb.String()
}
