// Package anyllm provides extraction providers backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "", "sk-ant-...")
//	p, err := anyllm.New("ollama", "llama3.1", "", anyllmlib.WithBaseURL("http://gpu:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

// Supported lists the back-end names accepted by New.
var Supported = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// defaultModels maps back ends to the model used when none is configured.
var defaultModels = map[string]string{
	"anthropic": "claude-3-sonnet-20240229",
	"openai":    "gpt-4",
}

// keyless back ends run locally and need no credential.
var keyless = map[string]bool{
	"ollama":    true,
	"llamacpp":  true,
	"llamafile": true,
}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
//
// The back end is created on first use, after the credential check, so a
// provider with a placeholder key can be registered without failing start-up.
type Provider struct {
	name   string
	model  string
	apiKey string
	opts   []anyllmlib.Option

	mu      sync.Mutex
	backend anyllmlib.Provider
}

// New creates a Provider for the named back end.
//
// providerName is one of Supported. An empty model selects the back end's
// default where one is known. apiKey is passed to the back end via
// anyllmlib.WithAPIKey; additional opts (for example anyllmlib.WithBaseURL)
// are appended.
func New(providerName, model, apiKey string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(providerName)
	if name == "" {
		return nil, errors.New("anyllm: providerName must not be empty")
	}
	if !isSupported(name) {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s", providerName, strings.Join(Supported, ", "))
	}
	if model == "" {
		model = defaultModels[name]
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty for %q", name)
	}
	return &Provider{name: name, model: model, apiKey: apiKey, opts: opts}, nil
}

// Name returns the back-end name.
func (p *Provider) Name() string { return p.name }

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if !keyless[p.name] {
		if err := llm.CheckCredential(p.name, p.apiKey); err != nil {
			return nil, err
		}
	}

	backend, err := p.getBackend()
	if err != nil {
		return nil, err
	}

	resp, err := backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.ProviderError{Provider: p.name, Err: errors.New("empty choices in response")}
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
		Model:   resp.Model,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

func (p *Provider) getBackend() (anyllmlib.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend != nil {
		return p.backend, nil
	}
	opts := p.opts
	if p.apiKey != "" {
		opts = append([]anyllmlib.Option{anyllmlib.WithAPIKey(p.apiKey)}, opts...)
	}
	backend, err := createBackend(p.name, opts...)
	if err != nil {
		return nil, &llm.ConfigurationError{Provider: p.name, Reason: err.Error()}
	}
	p.backend = backend
	return backend, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch providerName {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q", providerName)
	}
}

func isSupported(name string) bool {
	for _, s := range Supported {
		if s == name {
			return true
		}
	}
	return false
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

var _ llm.Provider = (*Provider)(nil)
