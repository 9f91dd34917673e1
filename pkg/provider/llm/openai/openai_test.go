package openai

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			p, err := convertMessage(llm.Message{Role: tt.role, Content: "x"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("convertMessage(%q) error = %v, wantErr %v", tt.role, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			switch tt.role {
			case llm.RoleSystem:
				if p.OfSystem == nil {
					t.Error("expected OfSystem to be set")
				}
			case llm.RoleUser:
				if p.OfUser == nil {
					t.Error("expected OfUser to be set")
				}
			case llm.RoleAssistant:
				if p.OfAssistant == nil {
					t.Error("expected OfAssistant to be set")
				}
			}
		})
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	if got := New("sk-test", "").Model(); got != DefaultModel {
		t.Errorf("Model() = %q, want %q", got, DefaultModel)
	}
}

func TestBuildParams_Options(t *testing.T) {
	t.Parallel()

	p := New("sk-test", "gpt-4o")
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a scribe.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature:  0.3,
		MaxTokens:    2000,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(params.Messages))
	}
	if string(params.Model) != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", params.Model)
	}
	if params.MaxCompletionTokens.Value != 2000 {
		t.Errorf("MaxCompletionTokens = %d, want 2000", params.MaxCompletionTokens.Value)
	}
	if params.Temperature.Value != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", params.Temperature.Value)
	}
}

func TestComplete_PlaceholderKeyNeverCallsNetwork(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for _, key := range []string{"", "your-openai-api-key-here"} {
		p := New(key, "", WithBaseURL(srv.URL))
		_, err := p.Complete(t.Context(), llm.UserPrompt("hello", 10, 0))
		var cfgErr *llm.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("key %q: error = %v, want *llm.ConfigurationError", key, err)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}
}

func TestComplete_Success(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"ok\":true}"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`)
	}))
	defer srv.Close()

	p := New("sk-test", "", WithBaseURL(srv.URL))
	resp, err := p.Complete(t.Context(), llm.UserPrompt("extract", 2000, 0.3))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}
	if gotBody["model"] != "gpt-4" {
		t.Errorf("request model = %v, want gpt-4", gotBody["model"])
	}
}

func TestComplete_StatusMapsToProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := New("sk-revoked", "", WithBaseURL(srv.URL))
	_, err := p.Complete(t.Context(), llm.UserPrompt("extract", 10, 0))
	var provErr *llm.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want *llm.ProviderError", err)
	}
	if provErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", provErr.StatusCode)
	}
}
