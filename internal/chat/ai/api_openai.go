package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider drives the OpenAI API using the official SDK. With a base
// URL override it also covers self-hosted OpenAI-compatible servers
// (llama.cpp, LM Studio, vLLM and friends).
type OpenAIProvider struct {
	client openai.Client
	id     string
	model  string
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		id:     "openai",
		model:  model,
	}
}

// NewOpenAICompatibleProvider creates a provider for a self-hosted server
// exposing the OpenAI wire format at baseURL.
func NewOpenAICompatibleProvider(baseURL, apiKey, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		id:     "openai-compatible",
		model:  model,
	}
}

// ID returns the backend identifier.
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// TestConnection lists models as a cheap reachability probe.
func (p *OpenAIProvider) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.Models.List(ctx)
	return err == nil
}

// Send performs a blocking chat completion.
func (p *OpenAIProvider) Send(ctx context.Context, req *ChatRequest) (*Response, error) {
	start := time.Now()

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Type: "invalid_request_error", Message: "openai returned no choices"}
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		TokenCount:   int(resp.Usage.TotalTokens),
		ResponseTime: time.Since(start),
	}, nil
}

// Stream performs a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	start := time.Now()

	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	events := make(chan StreamEvent, 64)

	go func() {
		defer close(events)

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !sendEvent(ctx, events, StreamEvent{Type: EventTypeText, Text: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			sendEvent(ctx, events, StreamEvent{Type: EventTypeError, Err: fmt.Errorf("openai stream: %w", err)})
			return
		}

		var content string
		if len(acc.Choices) > 0 {
			content = acc.Choices[0].Message.Content
		}

		sendEvent(ctx, events, StreamEvent{
			Type: EventTypeDone,
			Response: &Response{
				Content:      content,
				TokenCount:   int(acc.Usage.TotalTokens),
				ResponseTime: time.Since(start),
			},
		})
	}()

	return events, nil
}

func (p *OpenAIProvider) buildParams(req *ChatRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if sys := systemText(req); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}
	messages = append(messages, openai.UserMessage(req.Content))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}
