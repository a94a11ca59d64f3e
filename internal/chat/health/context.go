package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// charsPerToken is the deterministic estimation heuristic: roughly four
// characters per token. It is not an exact tokenizer and callers must
// treat estimates as approximate.
const charsPerToken = 4

// compressionThreshold is the fraction of the token budget at which the
// rendered context gets compressed.
const compressionThreshold = 0.9

// EstimateTokens estimates the token count of s.
func EstimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// ChatContext is the transient aggregate built per send. It is never
// persisted and is discarded after the send completes or fails.
type ChatContext struct {
	PersonalSummary   string
	Records           []RecordSummary
	DocumentSummaries []string
	Categories        []Category
	MaxTokens         int

	// Text is the rendered (and, when over budget, compressed) form
	// submitted to the provider.
	Text string
}

// EstimatedTokens returns the approximate token count of the rendered text.
func (c *ChatContext) EstimatedTokens() int {
	return EstimateTokens(c.Text)
}

// RenderText renders the uncompressed text form of the context.
func (c *ChatContext) RenderText() string {
	var b strings.Builder

	if c.PersonalSummary != "" {
		b.WriteString("Personal Information:\n")
		b.WriteString(c.PersonalSummary)
		b.WriteString("\n\n")
	}

	if len(c.Records) > 0 {
		b.WriteString("Health Records:\n")
		for _, r := range c.Records {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Category, r.Title, r.Summary)
		}
		b.WriteString("\n")
	}

	if len(c.DocumentSummaries) > 0 {
		b.WriteString("Document Summaries:\n")
		for _, d := range c.DocumentSummaries {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// ContextBuilder assembles a bounded ChatContext from the record catalogue.
type ContextBuilder struct {
	source RecordSource
	logger *slog.Logger
}

// NewContextBuilder creates a context builder over the given record source.
func NewContextBuilder(source RecordSource, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{source: source, logger: logger}
}

// Build resolves the selected categories against the record source and
// renders a budget-respecting text form. Build never fails: a fetch error
// degrades to an empty context so the send can proceed without records.
func (b *ContextBuilder) Build(ctx context.Context, categories []Category, tokenBudget int) *ChatContext {
	cc := &ChatContext{
		Categories: categories,
		MaxTokens:  tokenBudget,
	}

	records, err := b.source.Fetch(ctx, categories)
	if err != nil {
		b.logger.Warn("health record fetch failed, sending without context", "error", err)
		return cc
	}

	var legacy []RecordSummary
	var personal []string
	structuredCount := 0

	for _, r := range records {
		if r.Legacy {
			legacy = append(legacy, r)
			continue
		}
		structuredCount++
		switch r.Category {
		case CategoryPersonalInfo:
			personal = append(personal, r.Summary)
		case CategoryDocuments:
			cc.DocumentSummaries = append(cc.DocumentSummaries, r.Summary)
		default:
			cc.Records = append(cc.Records, r)
		}
	}

	// Legacy free-text records duplicate whatever structured extraction
	// later produced from the same documents. Include them only when
	// nothing structured matched the selection.
	if structuredCount == 0 {
		cc.Records = append(cc.Records, legacy...)
	}

	cc.PersonalSummary = strings.Join(personal, "\n")
	cc.Text = b.compress(cc.RenderText(), tokenBudget)

	return cc
}

// compress truncates text to the byte budget implied by 90% of the token
// budget, backs off to the last full line, and appends a truncation marker
// naming the limit. It never fails and always returns a budget-respecting
// string.
func (b *ContextBuilder) compress(text string, tokenBudget int) string {
	if tokenBudget <= 0 {
		return text
	}

	limit := int(float64(tokenBudget) * compressionThreshold)
	if EstimateTokens(text) <= limit {
		return text
	}

	byteBudget := limit * charsPerToken
	if byteBudget > len(text) {
		byteBudget = len(text)
	}
	truncated := text[:byteBudget]

	if idx := strings.LastIndexByte(truncated, '\n'); idx > 0 {
		truncated = truncated[:idx]
	}

	b.logger.Debug("compressed chat context",
		"original_tokens", EstimateTokens(text),
		"compressed_tokens", EstimateTokens(truncated),
		"budget", tokenBudget)

	return truncated + fmt.Sprintf("\n[Context truncated to fit %d token limit]", tokenBudget)
}
