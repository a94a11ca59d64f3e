package ai

import "strings"

// Some backends cannot accept a system prompt as a separate field (no
// system role, or the role is silently dropped). For those models the
// persona instructions and health context are folded into the visible body
// of the first message instead.

// defaultInjectionPatterns lists model-name patterns known to lack a usable
// system-prompt channel. Matching is exact or prefix.
var defaultInjectionPatterns = []string{
	"gemma",
	"deepseek-r1",
	"o1-mini",
	"o1-preview",
}

// Injector decides whether a model needs instruction injection and formats
// the folded first message.
type Injector struct {
	patterns []string
}

// NewInjector creates an injector with the given model-name patterns, or
// the built-in defaults when none are supplied.
func NewInjector(patterns ...string) *Injector {
	if len(patterns) == 0 {
		patterns = defaultInjectionPatterns
	}
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Injector{patterns: normalized}
}

// RequiresInjection reports whether the model cannot receive a separate
// system prompt. Matching is case-insensitive, exact or prefix.
func (i *Injector) RequiresInjection(model string) bool {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return false
	}
	for _, p := range i.patterns {
		if model == p || strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// FirstTurn reports whether a send is the conversation's first turn for
// injection purposes: exactly one user message and zero assistant messages.
// Counts must be captured after the outgoing user message is appended but
// BEFORE any assistant placeholder, or the count is off by one.
func FirstTurn(userMessages, assistantMessages int) bool {
	return userMessages == 1 && assistantMessages == 0
}

// FormatFirstMessage folds persona instructions, health context, and the
// user's question into a single message body with fixed section markers.
// The caller must submit the result as the sole message content with an
// empty separate context and system prompt.
func (i *Injector) FormatFirstMessage(userMessage, systemPrompt, contextText string) string {
	var b strings.Builder

	b.WriteString("[INSTRUCTIONS]\n")
	b.WriteString(strings.TrimSpace(systemPrompt))
	b.WriteString("\n\n[CONTEXT]\n")
	b.WriteString(strings.TrimSpace(contextText))
	b.WriteString("\n\n[QUESTION]\n")
	b.WriteString(strings.TrimSpace(userMessage))

	return b.String()
}
