package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider drives the Gemini API over its REST/SSE surface.
type GeminiProvider struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// ID returns the backend identifier.
func (p *GeminiProvider) ID() string {
	return "gemini"
}

// Model returns the configured model identifier.
func (p *GeminiProvider) Model() string {
	return p.model
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// TestConnection lists models as a reachability probe.
func (p *GeminiProvider) TestConnection(ctx context.Context) bool {
	url := fmt.Sprintf("%s/models?pageSize=1&key=%s", geminiBaseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Send performs a blocking generateContent call.
func (p *GeminiProvider) Send(ctx context.Context, req *ChatRequest) (*Response, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, p.model, p.apiKey)
	respBody, err := p.post(ctx, url, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var parsed geminiResponse
	if err := json.NewDecoder(respBody).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &ProviderError{Code: parsed.Error.Status, Message: parsed.Error.Message}
	}

	var content strings.Builder
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			content.WriteString(part.Text)
		}
	}

	tokens := 0
	if parsed.UsageMetadata != nil {
		tokens = parsed.UsageMetadata.TotalTokenCount
	}

	return &Response{
		Content:      content.String(),
		TokenCount:   tokens,
		ResponseTime: time.Since(start),
	}, nil
}

// Stream performs a streaming streamGenerateContent call over SSE.
func (p *GeminiProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent, 64)
	start := time.Now()

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", geminiBaseURL, p.model, p.apiKey)

	go func() {
		defer close(events)

		respBody, err := p.post(ctx, url, p.buildRequest(req))
		if err != nil {
			sendEvent(ctx, events, StreamEvent{Type: EventTypeError, Err: err})
			return
		}
		defer respBody.Close()

		scanner := bufio.NewScanner(respBody)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

		var content strings.Builder
		tokens := 0

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "" {
				continue
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				sendEvent(ctx, events, StreamEvent{
					Type: EventTypeError,
					Err:  &ProviderError{Code: chunk.Error.Status, Message: chunk.Error.Message},
				})
				return
			}
			if chunk.UsageMetadata != nil {
				tokens = chunk.UsageMetadata.TotalTokenCount
			}

			for _, cand := range chunk.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					content.WriteString(part.Text)
					if !sendEvent(ctx, events, StreamEvent{Type: EventTypeText, Text: part.Text}) {
						return
					}
				}

				if cand.FinishReason == "STOP" || cand.FinishReason == "MAX_TOKENS" {
					sendEvent(ctx, events, StreamEvent{
						Type: EventTypeDone,
						Response: &Response{
							Content:      content.String(),
							TokenCount:   tokens,
							ResponseTime: time.Since(start),
						},
					})
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			sendEvent(ctx, events, StreamEvent{Type: EventTypeError, Err: fmt.Errorf("gemini stream read: %w", err)})
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

func (p *GeminiProvider) buildRequest(req *ChatRequest) *geminiRequest {
	out := &geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Content}}},
		},
	}
	if sys := systemText(req); sys != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig = &geminiGenConfig{MaxOutputTokens: req.MaxTokens}
	}
	return out
}

func (p *GeminiProvider) post(ctx context.Context, url string, payload *geminiRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{
			Code:    fmt.Sprintf("%d", resp.StatusCode),
			Message: fmt.Sprintf("gemini error (%d): %s", resp.StatusCode, truncateErr(string(raw))),
		}
	}

	return resp.Body, nil
}
