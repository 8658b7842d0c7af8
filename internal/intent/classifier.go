// ABOUTME: Intent classification for guest messages
// ABOUTME: Ordered regex rules first, optional AI fallback second, general as the default

package intent

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"
)

// Intent is the classified purpose of a single guest message.
type Intent string

// The closed intent set. IntentError is reserved for catastrophic
// orchestration failures and is never produced by classification.
const (
	IntentBooking      Intent = "booking"
	IntentService      Intent = "service"
	IntentHousekeeping Intent = "housekeeping"
	IntentGeneral      Intent = "general"
	IntentError        Intent = "error"
)

// rule pairs an intent with its recognition pattern. Rules are evaluated in
// priority order; the first match wins.
type rule struct {
	intent  Intent
	pattern *regexp.Regexp
}

var rules = []rule{
	{IntentBooking, regexp.MustCompile(`\b(book(?:ing)?|reserv(?:e|ation|ations)|check[ -]?(?:in|out)|availab(?:le|ility)|vacanc(?:y|ies)|room rate|suite|upgrade|extend(?:ing)? (?:my|the|our) stay|nights?)\b`)},
	{IntentService, regexp.MustCompile(`\b(room service|restaurant|breakfast|lunch|dinner|menu|food|meal|drinks?|bar|spa|massage|taxi|shuttle|wake[ -]?up call|luggage|valet|bell(?:hop|boy))\b`)},
	{IntentHousekeeping, regexp.MustCompile(`\b(housekeep(?:ing)?|clean(?:ing)?|towels?|linens?|sheets?|laundry|pillows?|blankets?|toiletries|amenit(?:y|ies)|turn[ -]?down|trash|vacuum|do not disturb)\b`)},
	{IntentGeneral, regexp.MustCompile(`\b(hello|hi|hey|good (?:morning|afternoon|evening)|thanks?|thank you|help|wi-?fi|parking|pool|gym|directions?|what time|hours)\b`)},
}

// Completer is the optional text-generation collaborator used when no
// pattern matches. It may be nil.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Classifier maps free-form guest text to an intent tag.
type Classifier struct {
	llm    Completer // nil disables the AI fallback
	logger *slog.Logger
}

// NewClassifier creates a classifier. llm may be nil; pass nil logger for default.
func NewClassifier(llm Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		llm:    llm,
		logger: logger.With("component", "classifier"),
	}
}

// Classify determines the intent of a guest message. The regex pass is
// deterministic and never needs an external call; the AI fallback runs only
// when no pattern matched, and any failure there degrades to general.
func (c *Classifier) Classify(ctx context.Context, text, priorAgentType string) Intent {
	lowered := strings.ToLower(text)

	for _, r := range rules {
		if r.pattern.MatchString(lowered) {
			return r.intent
		}
	}

	if c.llm != nil {
		if in, ok := c.classifyWithAI(ctx, text, priorAgentType); ok {
			return in
		}
	}

	return IntentGeneral
}

// classifyWithAI issues a single constrained classification prompt. Returns
// ok=false when the call fails or the answer is outside the closed set.
func (c *Classifier) classifyWithAI(ctx context.Context, text, priorAgentType string) (Intent, bool) {
	var sb strings.Builder
	sb.WriteString("You classify hotel guest messages for a concierge system.\n")
	sb.WriteString("Answer with exactly one word: booking, service, housekeeping, or general.\n")
	if priorAgentType != "" {
		sb.WriteString("The previous message in this conversation was handled by the ")
		sb.WriteString(priorAgentType)
		sb.WriteString(" agent.\n")
	}
	sb.WriteString("Guest message: ")
	sb.WriteString(text)

	answer, err := c.llm.Complete(ctx, sb.String())
	if err != nil {
		c.logger.Debug("AI classification failed", "error", err)
		return IntentGeneral, false
	}

	switch Intent(strings.ToLower(strings.TrimSpace(answer))) {
	case IntentBooking:
		return IntentBooking, true
	case IntentService:
		return IntentService, true
	case IntentHousekeeping:
		return IntentHousekeeping, true
	case IntentGeneral:
		return IntentGeneral, true
	default:
		c.logger.Debug("AI classification returned unknown tag", "answer", answer)
		return IntentGeneral, false
	}
}

// Confidence scores how strongly the text supports the chosen intent:
// 0.5 + 0.2 per match of the intent's pattern, capped at 1.0. Empty text or
// an intent outside the pattern set scores 0.5.
func Confidence(text string, in Intent) float64 {
	if text == "" {
		return 0.5
	}

	var pattern *regexp.Regexp
	for _, r := range rules {
		if r.intent == in {
			pattern = r.pattern
			break
		}
	}
	if pattern == nil {
		return 0.5
	}

	matches := pattern.FindAllStringIndex(strings.ToLower(text), -1)
	return math.Min(0.5+0.2*float64(len(matches)), 1.0)
}
