package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider drives the Anthropic API using the official SDK.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ID returns the backend identifier.
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Model returns the configured model identifier.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// TestConnection sends a minimal one-token request as a reachability probe.
func (p *AnthropicProvider) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	return err == nil
}

// Send performs a blocking message call.
func (p *AnthropicProvider) Send(ctx context.Context, req *ChatRequest) (*Response, error) {
	start := time.Now()

	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}

	return &Response{
		Content:      content,
		TokenCount:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		ResponseTime: time.Since(start),
	}, nil
}

// Stream performs a streaming message call.
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	start := time.Now()

	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))
	events := make(chan StreamEvent, 64)

	go func() {
		defer close(events)

		var content string
		var tokens int64

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				if d, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					content += d.Text
					if !sendEvent(ctx, events, StreamEvent{Type: EventTypeText, Text: d.Text}) {
						return
					}
				}

			case "message_delta":
				tokens = event.AsMessageDelta().Usage.OutputTokens

			case "message_stop":
				sendEvent(ctx, events, StreamEvent{
					Type: EventTypeDone,
					Response: &Response{
						Content:      content,
						TokenCount:   int(tokens),
						ResponseTime: time.Since(start),
					},
				})
				return

			case "error":
				sendEvent(ctx, events, StreamEvent{
					Type: EventTypeError,
					Err:  &ProviderError{Type: "api_error", Message: truncateErr(event.RawJSON())},
				})
				return
			}
		}

		if err := stream.Err(); err != nil {
			sendEvent(ctx, events, StreamEvent{Type: EventTypeError, Err: fmt.Errorf("anthropic stream: %w", err)})
			return
		}

		// Stream exhausted without a message_stop; treat what arrived as final.
		sendEvent(ctx, events, StreamEvent{
			Type: EventTypeDone,
			Response: &Response{
				Content:      content,
				TokenCount:   int(tokens),
				ResponseTime: time.Since(start),
			},
		})
	}()

	return events, nil
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Content)),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if sys := systemText(req); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	return params
}
