// Package app wires all MedScribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API, MCP tools and background auto-save,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithEngine,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/medscribe/internal/bus"
	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/health"
	"github.com/MrWong99/medscribe/internal/mcp"
	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/persist"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/internal/speech"
	"github.com/MrWong99/medscribe/internal/synthesis"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/types"
)

// mockProviderName labels the deterministic last entry of the chain.
const mockProviderName = "mock"

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Primary     llm.Provider
	PrimaryName string

	Fallback     llm.Provider
	FallbackName string

	STT stt.Provider
}

// App owns all subsystem lifetimes and orchestrates the scribe session.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levels         *slog.LevelVar
	now            func() time.Time
	open           speech.AudioOpener

	// Subsystems, initialised in New and torn down in Shutdown.
	feed       *notify.Feed
	notifier   notify.Notifier
	publisher  *bus.Publisher
	store      persist.Store
	saver      *persist.AutoSaver
	transcript *transcript.Store
	gate       *transcript.Gate
	doc        *note.Document
	chain      *synthesis.Chain
	pipeline   *synthesis.Pipeline
	engine     speech.Engine
	ctrl       *speech.Controller
	tools      *mcp.Server
	health     *health.Handler
	checkers   []health.Checker

	// mu guards the hot-reloadable note settings.
	mu        sync.RWMutex
	rules     []note.Rule
	templates map[string]note.Template

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a snapshot store instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s persist.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEngine injects a recognition engine instead of streaming from the
// configured STT provider.
func WithEngine(e speech.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets hot reload adjust the log level of the handler built
// around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levels = v }
}

// WithAudioOpener replaces the audio source derived from
// speech.audio_source.
func WithAudioOpener(open speech.AudioOpener) Option {
	return func(a *App) { a.open = open }
}

// WithClock replaces time.Now for session ids and transcript timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: notification sinks, the
// snapshot store, the transcript and note, the provider chain, the speech
// controller, restoring the last snapshot, and the MCP tool server.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Notifications ─────────────────────────────────────────────────
	a.initNotifications(ctx)

	// ── 2. Snapshot store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Transcript and note ───────────────────────────────────────────
	a.transcript = transcript.NewStore(transcript.WithClock(a.now))
	a.gate = transcript.NewGate(a.transcript, cfg.Speech.ConfidenceThreshold, transcript.WithMetrics(a.metrics))
	a.doc = note.NewDocument()

	if err := a.loadNoteSettings(cfg); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: note settings: %w", err)
	}

	// ── 4. Synthesis ─────────────────────────────────────────────────────
	a.initSynthesis()

	// ── 5. Speech ────────────────────────────────────────────────────────
	a.initSpeech()

	// ── 6. Restore ───────────────────────────────────────────────────────
	a.restore(ctx)

	// ── 7. MCP tools and health ──────────────────────────────────────────
	a.tools = mcp.NewServer(a, a.version, mcp.WithMetrics(a.metrics))
	a.health = health.New(a.checkers)

	slog.Info("app: initialised",
		"providers", a.chain.Names(),
		"speech", a.providers.STT != nil || a.engine != nil,
		"persist", cfg.Persist.Driver,
		"nats", a.publisher != nil,
	)
	return a, nil
}

// initNotifications builds the fan-out of feed, log and (optionally) NATS.
// An unreachable NATS server only disables publishing.
func (a *App) initNotifications(ctx context.Context) {
	ncfg := a.cfg.Notifications
	a.feed = notify.NewFeed(ncfg.History, ncfg.DisplayDuration)
	sinks := []notify.Notifier{a.feed, notify.Log(slog.Default())}

	if len(ncfg.NATS.Servers) > 0 {
		pub, err := bus.Connect(ctx, bus.Config{
			Servers:        ncfg.NATS.Servers,
			SubjectPrefix:  ncfg.NATS.SubjectPrefix,
			ConnectTimeout: ncfg.NATS.ConnectTimeout,
			Token:          ncfg.NATS.Token,
		}, slog.Default())
		if err != nil {
			slog.Warn("app: NATS unavailable, event publishing disabled", "err", err)
		} else {
			a.publisher = pub
			sinks = append(sinks, pub)
			a.checkers = append(a.checkers, health.Checker{Name: "bus", Check: pub.Check})
			a.closers = append(a.closers, func() error { pub.Close(); return nil })
		}
	}
	a.notifier = notify.Multi(sinks...)
}

// initStore opens the configured snapshot store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Persist.Driver {
		case config.PersistSQLite:
			s, err := persist.OpenSQLite(ctx, a.cfg.Persist.Path)
			if err != nil {
				return err
			}
			a.store = s
			a.checkers = append(a.checkers, health.Checker{Name: "store", Check: s.Ping})
		case config.PersistPostgres:
			s, err := persist.OpenPostgres(ctx, a.cfg.Persist.DSN)
			if err != nil {
				return err
			}
			a.store = s
			a.checkers = append(a.checkers, health.Checker{Name: "store", Check: s.Ping})
		default:
			a.store = persist.NewMemoryStore()
		}
		a.closers = append(a.closers, a.store.Close)
	}
	if a.publisher != nil {
		a.store = bus.Mirror(a.store, a.publisher)
	}
	return nil
}

// initSynthesis builds the provider chain and the pipeline. The chain is
// primary, fallback, then the deterministic mock generator; absent slots are
// skipped.
func (a *App) initSynthesis() {
	scfg := a.cfg.Synthesis
	chainOpts := []synthesis.ChainOption{
		synthesis.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  scfg.CircuitBreaker.MaxFailures,
			ResetTimeout: scfg.CircuitBreaker.ResetTimeout,
		}),
		synthesis.WithChainMetrics(a.metrics),
		synthesis.WithAttemptTimeout(scfg.Timeout),
	}

	type entry struct {
		name string
		ext  synthesis.Extractor
	}
	var entries []entry
	if p := a.providers.Primary; p != nil {
		entries = append(entries, entry{name: nameOr(a.providers.PrimaryName, "primary"), ext: synthesis.NewProviderExtractor(p)})
	}
	if p := a.providers.Fallback; p != nil {
		entries = append(entries, entry{name: nameOr(a.providers.FallbackName, "fallback"), ext: synthesis.NewProviderExtractor(p)})
	}
	entries = append(entries, entry{name: mockProviderName, ext: synthesis.MockGenerator{}})

	a.chain = synthesis.NewChain(entries[0].name, entries[0].ext, chainOpts...)
	for _, e := range entries[1:] {
		a.chain.Add(e.name, e.ext)
	}

	specialties := make(map[string]synthesis.Specialty, len(scfg.Specialties))
	for name, s := range scfg.Specialties {
		specialties[name] = synthesis.Specialty{Context: s.Context, Focus: s.Focus}
	}
	temperature := synthesis.DefaultTemperature
	if scfg.Temperature != nil {
		temperature = *scfg.Temperature
	}

	a.saver = persist.NewAutoSaver(a.store, a.capture, a.cfg.Persist.Interval)
	a.pipeline = synthesis.New(a.transcript, a.doc, a.chain,
		synthesis.WithNotifier(a.notifier),
		synthesis.WithSaver(a.saver),
		synthesis.WithMetrics(a.metrics),
		synthesis.WithPromptBuilder(synthesis.NewPromptBuilder(specialties, scfg.Quality)),
		synthesis.WithGeneration(scfg.MaxTokens, temperature),
		synthesis.WithDefaults(synthesisDefaults(a.cfg)),
	)
}

// initSpeech builds the recognition engine and the session controller.
func (a *App) initSpeech() {
	scfg := a.cfg.Speech
	if a.engine == nil && a.providers.STT != nil {
		keywords := make([]types.KeywordBoost, 0, len(scfg.Keywords))
		for _, k := range scfg.Keywords {
			keywords = append(keywords, types.KeywordBoost{Keyword: k.Keyword, Boost: k.Boost})
		}
		open := a.open
		if open == nil {
			open = audioSource(scfg.AudioSource)
		}
		a.engine = speech.NewStreamEngine(a.providers.STT, stt.StreamConfig{
			SampleRate:      scfg.SampleRate,
			Channels:        scfg.Channels,
			Language:        scfg.Language,
			InterimResults:  scfg.InterimResults,
			MaxAlternatives: scfg.MaxAlternatives,
			Keywords:        keywords,
		}, open, speech.WithStreamMetrics(a.metrics))
	}

	engine := a.engine
	if engine == nil {
		engine = unavailableEngine{}
	}
	a.ctrl = speech.New(engine, a.gate, a.transcript,
		speech.WithNotifier(a.notifier),
		speech.WithSynthesisTrigger(a.pipeline),
		speech.WithMetrics(a.metrics),
		speech.WithRestartDelay(scfg.RestartDelay),
		speech.WithMaxRestarts(scfg.MaxRestarts),
		speech.WithContinuous(scfg.IsContinuous()),
	)
}

// restore loads the latest snapshot, or starts a fresh session when there is
// none or restoring is disabled.
func (a *App) restore(ctx context.Context) {
	now := a.now()
	if !a.cfg.Persist.ShouldRestore() {
		a.ctrl.Reset(speech.NewSessionID(now), now)
		return
	}
	snap, err := a.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, persist.ErrNoSnapshot) {
			slog.Warn("app: could not load snapshot, starting fresh", "err", err)
		}
		a.ctrl.Reset(speech.NewSessionID(now), now)
		return
	}

	a.doc.Replace(snap.Note)
	a.transcript.Restore(snap.Transcript)
	sessionID := snap.SessionID
	if sessionID == "" {
		sessionID = speech.NewSessionID(now)
	}
	a.ctrl.Reset(sessionID, now)
	if snap.Specialty != "" {
		params := a.pipeline.Defaults()
		params.Specialty = snap.Specialty
		a.pipeline.SetDefaults(params)
	}
	slog.Info("app: session restored", "session_id", sessionID, "utterances", len(snap.Transcript))
}

// capture builds the snapshot written by the auto-saver.
func (a *App) capture() persist.Snapshot {
	return persist.Snapshot{
		Note:         a.doc.Snapshot(),
		Transcript:   a.transcript.Utterances(),
		SessionID:    a.ctrl.State().SessionID,
		LastModified: a.doc.LastModified(),
		Specialty:    a.pipeline.Defaults().Specialty,
	}
}

// loadNoteSettings parses validation rules and templates from cfg.
func (a *App) loadNoteSettings(cfg *config.Config) error {
	rules, err := cfg.ValidationRules()
	if err != nil {
		return err
	}
	templates, err := cfg.NoteTemplates()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.rules = rules
	a.templates = templates
	a.mu.Unlock()
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler: REST API, health probes, Prometheus
// metrics and, when configured, the MCP streamable HTTP endpoint.
func (a *App) Handler() http.Handler {
	return a.newMux()
}

// Run serves until ctx is cancelled. It blocks; call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	return a.serve(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: capture stops first, running
// synthesis is awaited, the session is saved one last time, then stores and
// connections close. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if err := a.ctrl.Close(); err != nil {
			slog.Warn("app: speech controller close error", "err", err)
		}

		done := make(chan struct{})
		go func() {
			a.pipeline.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("app: synthesis still running at shutdown")
		}

		if err := a.saver.SaveNow(ctx); err != nil {
			slog.Warn("app: final save failed", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// unavailableEngine stands in when no STT provider is configured.
type unavailableEngine struct{}

func (unavailableEngine) Start(context.Context, speech.Listener) error {
	return speech.ErrEngineUnavailable
}

func (unavailableEngine) Stop() error { return nil }

// audioSource opens the configured source for every recognition session.
// "-" streams stdin; all sessions share it and closing a session leaves it
// open. See [speech.FileSource] for files and FIFOs.
func audioSource(path string) speech.AudioOpener {
	switch path {
	case "":
		return func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("app: speech.audio_source is not configured")
		}
	case "-":
		return func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(os.Stdin), nil
		}
	default:
		return speech.FileSource(path)
	}
}

func synthesisDefaults(cfg *config.Config) synthesis.Params {
	return synthesis.Params{
		Specialty: cfg.Synthesis.DefaultSpecialty,
		Quality:   cfg.Synthesis.DefaultQuality,
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
