// Package llm defines the Provider interface for hosted and local language
// model back ends used for structured note extraction.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a single blocking completion call. The
// synthesis pipeline only ever needs one textual payload per request, so
// streaming and tool calling are not part of the contract.
//
// Implementations must be safe for concurrent use and must check their
// credential before touching the network: a missing or placeholder key yields
// a *ConfigurationError without any request being sent.
package llm

import "context"

// Usage holds token accounting returned by the back end.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. For extraction this is a single
	// user message holding the full prompt.
	Messages []Message

	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0]. Zero leaves the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the single textual payload extracted from the provider's
	// response envelope.
	Content string

	// Model is the model that produced the response, as reported by the
	// back end. May be empty.
	Model string

	Usage Usage
}

// Provider is the abstraction over any language model back end.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns a *ConfigurationError when no usable credential is configured
	// and a *ProviderError when the back end answers with a non-success
	// status.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// UserPrompt is a convenience constructor for a single-message request.
func UserPrompt(prompt string, maxTokens int, temperature float64) CompletionRequest {
	return CompletionRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
