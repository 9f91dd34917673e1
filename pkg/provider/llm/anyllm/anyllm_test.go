package anyllm

import (
	"errors"
	"testing"

	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		provider  string
		model     string
		wantModel string
		wantErr   bool
	}{
		{name: "anthropic default model", provider: "anthropic", wantModel: "claude-3-sonnet-20240229"},
		{name: "openai default model", provider: "OpenAI", wantModel: "gpt-4"},
		{name: "explicit model", provider: "ollama", model: "llama3.1", wantModel: "llama3.1"},
		{name: "no default for gemini", provider: "gemini", wantErr: true},
		{name: "unsupported", provider: "watson", model: "x", wantErr: true},
		{name: "empty", provider: "", model: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.provider, tt.model, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Model() != tt.wantModel {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.wantModel)
			}
		})
	}
}

func TestComplete_PlaceholderKey(t *testing.T) {
	t.Parallel()

	p, err := New("anthropic", "", "your-anthropic-api-key-here")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(t.Context(), llm.UserPrompt("hello", 10, 0))
	var cfgErr *llm.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *llm.ConfigurationError", err)
	}
	if cfgErr.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfgErr.Provider)
	}
	if p.backend != nil {
		t.Error("backend must not be created before the credential check passes")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("anthropic", "claude-3-5-sonnet-latest", "sk-ant-x")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "system",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "prompt"}},
		Temperature:  0.3,
		MaxTokens:    2000,
	})

	if params.Model != "claude-3-5-sonnet-latest" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[1].ContentString() != "prompt" {
		t.Errorf("unexpected messages: %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %v, want 2000", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	t.Parallel()

	p, _ := New("ollama", "llama3.1", "")
	params := p.buildParams(llm.UserPrompt("x", 0, 0))
	if params.Temperature != nil {
		t.Error("expected nil Temperature")
	}
	if params.MaxTokens != nil {
		t.Error("expected nil MaxTokens")
	}
}
