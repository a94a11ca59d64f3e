package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider drives a local Ollama runtime using the official SDK.
type OllamaProvider struct {
	client  *api.Client
	baseURL string
	model   string
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		parsedURL, _ = url.Parse(defaultOllamaURL)
	}

	httpClient := &http.Client{
		Timeout: 5 * time.Minute, // local inference can be slow
	}

	return &OllamaProvider{
		client:  api.NewClient(parsedURL, httpClient),
		baseURL: baseURL,
		model:   model,
	}
}

// ID returns the backend identifier.
func (p *OllamaProvider) ID() string {
	return "ollama"
}

// Model returns the configured model identifier.
func (p *OllamaProvider) Model() string {
	return p.model
}

// TestConnection checks whether the local runtime is reachable.
func (p *OllamaProvider) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Send performs a blocking chat call.
func (p *OllamaProvider) Send(ctx context.Context, req *ChatRequest) (*Response, error) {
	start := time.Now()

	stream := false
	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: p.buildMessages(req),
		Stream:   &stream,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var content strings.Builder
	tokens := 0
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			tokens = resp.Metrics.EvalCount + resp.Metrics.PromptEvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &Response{
		Content:      content.String(),
		TokenCount:   tokens,
		ResponseTime: time.Since(start),
	}, nil
}

// Stream performs a streaming chat call.
func (p *OllamaProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent, 64)
	start := time.Now()

	stream := true
	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: p.buildMessages(req),
		Stream:   &stream,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	go func() {
		defer close(events)

		var content strings.Builder
		tokens := 0
		done := false

		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				content.WriteString(resp.Message.Content)
				if !sendEvent(ctx, events, StreamEvent{Type: EventTypeText, Text: resp.Message.Content}) {
					return ctx.Err()
				}
			}
			if resp.Done {
				done = true
				tokens = resp.Metrics.EvalCount + resp.Metrics.PromptEvalCount
			}
			return nil
		})

		if err != nil {
			sendEvent(ctx, events, StreamEvent{Type: EventTypeError, Err: fmt.Errorf("ollama stream: %w", err)})
			return
		}
		if !done {
			sendEvent(ctx, events, StreamEvent{Type: EventTypeError, Err: fmt.Errorf("ollama stream ended without completion")})
			return
		}

		sendEvent(ctx, events, StreamEvent{
			Type: EventTypeDone,
			Response: &Response{
				Content:      content.String(),
				TokenCount:   tokens,
				ResponseTime: time.Since(start),
			},
		})
	}()

	return events, nil
}

// buildMessages converts the request to Ollama's message format. The system
// side channel carries persona plus health context; injected requests have
// both empty.
func (p *OllamaProvider) buildMessages(req *ChatRequest) []api.Message {
	messages := make([]api.Message, 0, 2)
	if sys := systemText(req); sys != "" {
		messages = append(messages, api.Message{Role: "system", Content: sys})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Content})
	return messages
}
