// Package synthesis turns the transcript into a populated clinical note.
//
// A run serialises the transcript, renders one extraction prompt, sends it
// through the provider [Chain] (primary, fallback, then the deterministic
// [MockGenerator]), parses the first JSON object out of the payload and
// populates the note with every non-empty field. Only one run may be in
// flight at a time.
package synthesis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/types"
)

const (
	// DefaultMaxTokens caps the provider completion length.
	DefaultMaxTokens = 2000

	// DefaultTemperature is the sampling temperature sent to providers.
	DefaultTemperature = 0.3
)

// rawFallbackField receives the raw payload when it cannot be parsed.
var rawFallbackField = note.FieldID{Section: note.SectionSubjective, Key: "chiefComplaint"}

// TranscriptReader is the read side of the transcript.
type TranscriptReader interface {
	Utterances() []types.Utterance
}

// NoteWriter is the write side of the clinical note.
type NoteWriter interface {
	Populate(parsed note.Content) int
	SetField(id note.FieldID, value string) error
}

// Saver persists the current state immediately.
type Saver interface {
	SaveNow(ctx context.Context) error
}

// Params selects the prompt profile of a run.
type Params struct {
	Specialty string
	Quality   string
}

// Result describes a successful run.
type Result struct {
	Provider string
	Fields   int
	Content  note.Content
	Duration time.Duration
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithNotifier sets the sink for run notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithSaver triggers an immediate save after every run that changed the note.
func WithSaver(s Saver) Option {
	return func(p *Pipeline) {
		p.saver = s
	}
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithPromptBuilder replaces the default prompt builder.
func WithPromptBuilder(b *PromptBuilder) Option {
	return func(p *Pipeline) {
		p.prompts = b
	}
}

// WithGeneration sets the token limit and temperature sent to providers.
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(p *Pipeline) {
		if maxTokens > 0 {
			p.maxTokens = maxTokens
		}
		if temperature >= 0 {
			p.temperature = temperature
		}
	}
}

// WithDefaults sets the parameters used by [Pipeline.RequestSynthesis].
func WithDefaults(params Params) Option {
	return func(p *Pipeline) {
		p.defaults = params
	}
}

// Pipeline runs note synthesis.
type Pipeline struct {
	transcript TranscriptReader
	doc        NoteWriter
	chain      *Chain
	prompts    *PromptBuilder
	notifier   notify.Notifier
	saver      Saver
	metrics    *observe.Metrics

	maxTokens   int
	temperature float64

	running atomic.Bool
	wg      sync.WaitGroup

	mu       sync.Mutex
	defaults Params
	last     Result
}

// New creates a Pipeline reading from tr and writing into doc.
func New(tr TranscriptReader, doc NoteWriter, chain *Chain, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcript:  tr,
		doc:         doc,
		chain:       chain,
		notifier:    notify.Discard,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		defaults:    Params{Specialty: DefaultSpecialty, Quality: DefaultQuality},
	}
	for _, o := range opts {
		o(p)
	}
	if p.prompts == nil {
		p.prompts = NewPromptBuilder(nil, nil)
	}
	return p
}

// SetDefaults changes the parameters used by [Pipeline.RequestSynthesis].
func (p *Pipeline) SetDefaults(params Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = params
}

// Defaults returns the parameters used by [Pipeline.RequestSynthesis].
func (p *Pipeline) Defaults() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaults
}

// Last returns the result of the latest successful run.
func (p *Pipeline) Last() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool { return p.running.Load() }

// RequestSynthesis starts a run with the default parameters in the
// background. The run is detached from ctx cancellation.
func (p *Pipeline) RequestSynthesis(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		p.rejectBusy(ctx)
		return ErrSynthesisInProgress
	}
	params := p.Defaults()
	ctx = context.WithoutCancel(ctx)
	p.wg.Go(func() {
		defer p.running.Store(false)
		_, _ = p.run(ctx, params)
	})
	return nil
}

// Wait blocks until background runs have finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Synthesize runs synthesis synchronously.
//
// It returns *NoDataError for an empty transcript without calling any
// provider, *ParseError when the winning payload holds no JSON note (the raw
// payload is then written to the chief complaint), and
// ErrSynthesisInProgress while another run is in flight.
func (p *Pipeline) Synthesize(ctx context.Context, params Params) (Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.rejectBusy(ctx)
		return Result{}, ErrSynthesisInProgress
	}
	defer p.running.Store(false)
	return p.run(ctx, params)
}

func (p *Pipeline) run(ctx context.Context, params Params) (res Result, err error) {
	if params.Specialty == "" {
		params.Specialty = DefaultSpecialty
	}
	if params.Quality == "" {
		params.Quality = DefaultQuality
	}

	ctx, span := observe.StartSpan(ctx, "synthesis.run", trace.WithAttributes(
		attribute.String("specialty", params.Specialty),
		attribute.String("quality", params.Quality),
	))
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	defer func() {
		observe.Fail(span, err)
		if p.metrics != nil {
			p.metrics.RecordSynthesis(ctx, outcome(err), time.Since(start).Seconds())
		}
	}()

	utts := p.transcript.Utterances()
	if len(utts) == 0 {
		p.notify(ctx, notify.Warning, "No Data", "No conversation to analyze")
		return Result{}, &NoDataError{}
	}

	p.notify(ctx, notify.Info, "Processing", "Generating SOAP note with AI...")

	req := Request{
		Prompt:      p.prompts.Build(params.Specialty, params.Quality, transcript.Conversation(utts)),
		Specialty:   params.Specialty,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	text, provider, err := p.chain.Extract(ctx, req)
	if err != nil {
		log.Error("synthesis: all providers failed", "error", err)
		p.notify(ctx, notify.Error, "Generation Failed", "AI processing failed. Please try again.")
		return Result{}, err
	}

	parsed, err := Parse(text)
	if err != nil {
		log.Warn("synthesis: unparsable payload", "provider", provider, "error", err)
		if setErr := p.doc.SetField(rawFallbackField, text); setErr != nil {
			err = errors.Join(err, setErr)
		}
		p.notify(ctx, notify.Error, "Parse Error", "Failed to parse AI response")
		p.save(ctx)
		return Result{}, err
	}

	n := p.doc.Populate(parsed)
	res = Result{Provider: provider, Fields: n, Content: parsed, Duration: time.Since(start)}
	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	log.Info("synthesis: note generated", "provider", provider, "fields", n, "duration", res.Duration)
	p.notify(ctx, notify.Success, "SOAP Note Generated", "Medical analysis complete")
	p.save(ctx)
	return res, nil
}

func (p *Pipeline) rejectBusy(ctx context.Context) {
	p.notify(ctx, notify.Warning, "Synthesis In Progress", "A SOAP note is already being generated")
	if p.metrics != nil {
		p.metrics.Syntheses.Add(ctx, 1, metric.WithAttributes(observe.Attr("outcome", "rejected")))
	}
}

func (p *Pipeline) save(ctx context.Context) {
	if p.saver == nil {
		return
	}
	if err := p.saver.SaveNow(ctx); err != nil {
		observe.Logger(ctx).Warn("synthesis: auto-save failed", "error", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, sev notify.Severity, title, msg string) {
	p.notifier.Notify(ctx, notify.Notification{Severity: sev, Title: title, Message: msg})
}

func outcome(err error) string {
	var (
		noData   *NoDataError
		parseErr *ParseError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &noData):
		return "no_data"
	case errors.As(err, &parseErr):
		return "parse_error"
	default:
		return "failed"
	}
}
