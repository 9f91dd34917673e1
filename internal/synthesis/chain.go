package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

// Request is one extraction call.
type Request struct {
	Prompt      string
	Specialty   string
	MaxTokens   int
	Temperature float64
}

// Extractor turns a prompt into the text of a candidate note.
type Extractor interface {
	Extract(ctx context.Context, req Request) (string, error)
}

// ProviderExtractor adapts an [llm.Provider] to [Extractor].
type ProviderExtractor struct {
	provider llm.Provider
}

// NewProviderExtractor wraps p.
func NewProviderExtractor(p llm.Provider) *ProviderExtractor {
	return &ProviderExtractor{provider: p}
}

// Extract sends the prompt as a single user message.
func (e *ProviderExtractor) Extract(ctx context.Context, req Request) (string, error) {
	resp, err := e.provider.Complete(ctx, llm.UserPrompt(req.Prompt, req.MaxTokens, req.Temperature))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

type namedExtractor struct {
	name string
	Extractor
}

// ChainOption configures a [Chain].
type ChainOption func(*chainConfig)

type chainConfig struct {
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
	timeout time.Duration
}

// WithAttemptTimeout bounds every single provider attempt. Zero disables it.
func WithAttemptTimeout(d time.Duration) ChainOption {
	return func(c *chainConfig) {
		c.timeout = d
	}
}

// WithCircuitBreaker sets the breaker template applied to every entry.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) ChainOption {
	return func(c *chainConfig) {
		c.breaker = cfg
	}
}

// WithChainMetrics records provider requests, errors and latency on m.
func WithChainMetrics(m *observe.Metrics) ChainOption {
	return func(c *chainConfig) {
		c.metrics = m
	}
}

// Chain is the ordered provider fallback chain. Entries are tried strictly
// one after another; a blank payload counts as a failure.
type Chain struct {
	group   *resilience.FallbackGroup[namedExtractor]
	metrics *observe.Metrics
	timeout time.Duration
}

// NewChain creates a chain whose first entry is primary.
func NewChain(primaryName string, primary Extractor, opts ...ChainOption) *Chain {
	var cfg chainConfig
	for _, o := range opts {
		o(&cfg)
	}
	c := &Chain{metrics: cfg.metrics, timeout: cfg.timeout}
	c.group = resilience.NewFallbackGroup(
		namedExtractor{name: primaryName, Extractor: primary},
		primaryName,
		resilience.FallbackConfig{CircuitBreaker: cfg.breaker, OnAttempt: c.onAttempt},
	)
	return c
}

// Add appends an entry to the chain.
func (c *Chain) Add(name string, e Extractor) {
	c.group.AddFallback(name, namedExtractor{name: name, Extractor: e})
}

// Names returns the entry names in the order they are tried.
func (c *Chain) Names() []string { return c.group.Names() }

// Extract runs req through the chain and returns the first usable payload
// together with the name of the entry that produced it.
func (c *Chain) Extract(ctx context.Context, req Request) (text, provider string, err error) {
	text, provider, err = resilience.ExecuteWithResult(ctx, c.group, func(ctx context.Context, e namedExtractor) (string, error) {
		return c.attempt(ctx, e, req)
	})
	if err != nil {
		return "", "", fmt.Errorf("synthesis: extract: %w", err)
	}
	return text, provider, nil
}

func (c *Chain) attempt(ctx context.Context, e namedExtractor, req Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "synthesis.extract",
		trace.WithAttributes(attribute.String("provider", e.name)))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := e.Extract(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = &llm.ProviderError{Provider: e.name, Err: ErrEmptyPayload}
	}

	if c.metrics != nil {
		c.metrics.ProviderDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", e.name)))
	}
	if err != nil {
		observe.Fail(span, err)
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, e.name, errorKind(err))
		}
		return "", err
	}
	return text, nil
}

func (c *Chain) onAttempt(ctx context.Context, a resilience.Attempt) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case a.Skipped():
		status = "skipped"
	case a.Err != nil:
		status = "error"
	}
	c.metrics.RecordProviderRequest(ctx, a.Name, "extract", status)
}

// errorKind classifies a provider failure for metrics.
func errorKind(err error) string {
	var (
		cfgErr  *llm.ConfigurationError
		provErr *llm.ProviderError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.Is(err, ErrEmptyPayload):
		return "empty"
	case errors.As(err, &provErr):
		return "status"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "other"
	}
}
