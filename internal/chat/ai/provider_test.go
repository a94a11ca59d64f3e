package ai

import (
	"context"
	"errors"
	"testing"
)

// stubProvider is a minimal Provider for registry tests.
type stubProvider struct {
	id    string
	model string
}

func (s *stubProvider) ID() string    { return s.id }
func (s *stubProvider) Model() string { return s.model }
func (s *stubProvider) TestConnection(ctx context.Context) bool {
	return true
}
func (s *stubProvider) Send(ctx context.Context, req *ChatRequest) (*Response, error) {
	return &Response{Content: "stub"}, nil
}
func (s *stubProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, nil
}

func TestRegistryFirstRegistrationBecomesActive(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{id: "ollama", model: "llama3"})
	reg.Register(&stubProvider{id: "anthropic", model: "claude"})

	active, err := reg.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID() != "ollama" {
		t.Errorf("active = %q, want first-registered", active.ID())
	}
}

func TestRegistrySetActive(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{id: "ollama"})
	reg.Register(&stubProvider{id: "gemini"})

	if err := reg.SetActive("gemini"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, _ := reg.Active()
	if active.ID() != "gemini" {
		t.Errorf("active = %q, want gemini", active.ID())
	}

	if err := reg.SetActive("nope"); err == nil {
		t.Error("SetActive on an unknown backend must fail")
	}
}

func TestRegistryEmpty(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Active(); err == nil {
		t.Error("Active on empty registry must fail")
	}
	if _, ok := reg.Get("ollama"); ok {
		t.Error("Get on empty registry must miss")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{id: "openai"})
	reg.Register(&stubProvider{id: "anthropic"})
	reg.Register(&stubProvider{id: "gemini"})

	ids := reg.IDs()
	want := []string{"anthropic", "gemini", "openai"}
	if len(ids) != len(want) {
		t.Fatalf("IDs = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestIsRetryableProviderErrors(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&ProviderError{Code: "rate_limit_exceeded", Message: "slow down"}, true},
		{&ProviderError{Type: "overloaded_error", Message: "overloaded"}, true},
		{&ProviderError{Code: "authentication_error", Message: "bad key"}, false},
		{&ProviderError{Type: "invalid_request_error", Message: "malformed"}, false},
		{errors.New("connection reset by peer"), true},
		{errors.New("failed to unmarshal body"), false},
	}

	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSystemTextCombinesPersonaAndContext(t *testing.T) {
	if got := systemText(&ChatRequest{SystemPrompt: "persona", Context: "ctx"}); got != "persona\n\nctx" {
		t.Errorf("systemText = %q", got)
	}
	if got := systemText(&ChatRequest{SystemPrompt: "persona"}); got != "persona" {
		t.Errorf("systemText = %q", got)
	}
	if got := systemText(&ChatRequest{Context: "ctx"}); got != "ctx" {
		t.Errorf("systemText = %q", got)
	}
	if got := systemText(&ChatRequest{}); got != "" {
		t.Errorf("systemText = %q", got)
	}
}
