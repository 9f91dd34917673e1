package synthesis

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/medscribe/pkg/provider/llm/mock"
)

// callOrder records provider names in the order they are called.
type callOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *callOrder) hook(name string) func() {
	return func() {
		o.mu.Lock()
		o.names = append(o.names, name)
		o.mu.Unlock()
	}
}

func (o *callOrder) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.names)
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	order := &callOrder{}
	primary := &llmmock.Provider{
		CompleteErr: &llm.ProviderError{Provider: "openai", StatusCode: 500, Err: errors.New("boom")},
		OnComplete:  order.hook("openai"),
	}
	fallback := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"plan":{"followUp":"1 week"}}`},
		OnComplete:       order.hook("anthropic"),
	}

	c := NewChain("openai", NewProviderExtractor(primary))
	c.Add("anthropic", NewProviderExtractor(fallback))
	c.Add("mock", MockGenerator{})

	text, provider, err := c.Extract(t.Context(), Request{Prompt: "p", MaxTokens: 2000, Temperature: 0.3})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if provider != "anthropic" || text != `{"plan":{"followUp":"1 week"}}` {
		t.Errorf("got %q from %q", text, provider)
	}
	if got := order.get(); !slices.Equal(got, []string{"openai", "anthropic"}) {
		t.Errorf("call order = %v", got)
	}

	req := fallback.CompleteCalls[0].Req
	if req.MaxTokens != 2000 || req.Temperature != 0.3 || len(req.Messages) != 1 || req.Messages[0].Content != "p" {
		t.Errorf("forwarded request = %+v", req)
	}
}

func TestChain_BlankPayloadFallsThrough(t *testing.T) {
	t.Parallel()

	blank := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  \n"}}
	c := NewChain("openai", NewProviderExtractor(blank))
	c.Add("mock", MockGenerator{})

	_, provider, err := c.Extract(t.Context(), Request{Specialty: "general"})
	if err != nil || provider != "mock" {
		t.Fatalf("provider = %q, err = %v", provider, err)
	}
}

func TestChain_ConfigurationErrorFallsThrough(t *testing.T) {
	t.Parallel()

	unconfigured := &llmmock.Provider{CompleteErr: llm.CheckCredential("openai", "your-openai-api-key-here")}
	c := NewChain("openai", NewProviderExtractor(unconfigured))
	c.Add("mock", MockGenerator{})

	_, provider, err := c.Extract(t.Context(), Request{})
	if err != nil || provider != "mock" {
		t.Fatalf("provider = %q, err = %v", provider, err)
	}
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()

	down := &llmmock.Provider{CompleteErr: &llm.ProviderError{Provider: "openai", StatusCode: 503, Err: errors.New("unavailable")}}
	c := NewChain("openai", NewProviderExtractor(down),
		WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 10}))

	_, _, err := c.Extract(t.Context(), Request{})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 503 {
		t.Errorf("err should carry the provider error, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{llm.CheckCredential("openai", ""), "configuration"},
		{&llm.ProviderError{Provider: "x", Err: ErrEmptyPayload}, "empty"},
		{&llm.ProviderError{Provider: "x", StatusCode: 429, Err: errors.New("rate")}, "status"},
		{errors.New("dial tcp"), "other"},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.want {
			t.Errorf("errorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
