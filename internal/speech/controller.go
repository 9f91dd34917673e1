// Package speech owns the continuous recognition session: which speaker is
// being captured, whether capture is active, and keeping the external engine
// alive across its natural end-of-session events.
//
// The [Controller] is a small state machine:
//
//	Idle → Listening(speaker) → Paused → Idle
//	Listening(A) → Listening(B)   (stop A, then start B)
//
// Finalized results pass through voice command interception and then the
// confidence gate; interim results only update a transient preview.
//
// When the engine ends a session while capture is active, the controller
// restarts it after a short delay. Restarts are bounded: after MaxRestarts
// consecutive ends without any result capture stops with an error
// notification. Stopping or pausing cancels a pending restart.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/voicecmd"
	"github.com/MrWong99/medscribe/pkg/types"
)

const (
	defaultRestartDelay = 100 * time.Millisecond
	defaultMaxRestarts  = 10
)

// State is the coarse controller state derived from [SessionState].
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StatePaused    State = "paused"
)

// SessionState is the observable state of the current session. While
// RecordingActive is false, ActiveSpeaker is only the last speaker.
type SessionState struct {
	SessionID       string        `json:"sessionId"`
	StartTime       time.Time     `json:"startTime"`
	ActiveSpeaker   types.Speaker `json:"activeSpeaker"`
	RecordingActive bool          `json:"recordingActive"`
}

// State returns the coarse state.
func (s SessionState) State() State {
	switch {
	case s.RecordingActive && s.ActiveSpeaker.IsValid():
		return StateListening
	case s.ActiveSpeaker.IsValid():
		return StatePaused
	default:
		return StateIdle
	}
}

// Admitter is the confidence gate.
type Admitter interface {
	Admit(ctx context.Context, speaker types.Speaker, text string, confidence float64) (types.Utterance, bool)
}

// ParagraphWriter applies the paragraph-break mutation to the transcript.
type ParagraphWriter interface {
	AppendParagraphBreak(speaker types.Speaker) bool
}

// SynthesisTrigger starts note synthesis without waiting for it to finish.
type SynthesisTrigger interface {
	RequestSynthesis(ctx context.Context) error
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithNotifier sets the sink for status notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithSynthesisTrigger sets the target of the "generate soap" voice command.
func WithSynthesisTrigger(t SynthesisTrigger) Option {
	return func(c *Controller) {
		c.synth = t
	}
}

// WithMetrics records gauges and counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithRestartDelay sets the pause before an automatic restart.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.restartDelay = d
		}
	}
}

// WithMaxRestarts bounds consecutive automatic restarts without a result.
func WithMaxRestarts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRestarts = n
		}
	}
}

// WithContinuous controls whether an ended engine session is restarted.
// When false, recording stops as soon as the engine ends a session.
func WithContinuous(continuous bool) Option {
	return func(c *Controller) {
		c.continuous = continuous
	}
}

// Controller is the speech session state machine. It implements
// [voicecmd.Dispatcher]. All methods are safe for concurrent use.
type Controller struct {
	engine     Engine
	gate       Admitter
	paragraphs ParagraphWriter
	synth      SynthesisTrigger
	notifier   notify.Notifier
	metrics    *observe.Metrics

	restartDelay time.Duration
	maxRestarts  int
	continuous   bool

	ctx    context.Context
	cancel context.CancelFunc

	// startMu serializes engine starts. Stops never take it, so a start
	// blocked on I/O cannot delay a stop.
	startMu sync.Mutex

	mu       sync.Mutex
	state    SessionState
	gen      uint64 // identifies the engine session whose events are current
	restarts int
	timer    *time.Timer
	preview  string
	closed   bool
}

// New creates an idle Controller.
func New(engine Engine, gate Admitter, paragraphs ParagraphWriter, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:       engine,
		gate:         gate,
		paragraphs:   paragraphs,
		notifier:     notify.Discard,
		restartDelay: defaultRestartDelay,
		maxRestarts:  defaultMaxRestarts,
		continuous:   true,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns a snapshot of the session state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Preview returns the interim "speaking now" text of the latest result batch.
func (c *Controller) Preview() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// StartRecording begins capturing speaker. It is a no-op if speaker is
// already being captured; if another speaker is, that capture is stopped
// first.
func (c *Controller) StartRecording(ctx context.Context, speaker types.Speaker) error {
	if !speaker.IsValid() {
		return fmt.Errorf("speech: start recording: invalid speaker %q", speaker)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("speech: start recording: controller closed")
	}
	if c.state.RecordingActive && c.state.ActiveSpeaker == speaker {
		c.mu.Unlock()
		return nil
	}
	if c.state.RecordingActive {
		c.stopEngineLocked()
	}
	c.cancelRestartLocked()
	c.restarts = 0
	c.state.ActiveSpeaker = speaker
	c.setRecordingLocked(ctx, true)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	current, err := c.launch(gen)
	if !current {
		slog.Debug("speech: recording superseded while starting", "speaker", speaker)
		return nil
	}
	if err != nil {
		c.startFailed(gen, err)
		return fmt.Errorf("speech: start recording: %w", err)
	}

	slog.Info("speech: recording started", "speaker", speaker)
	c.emit(ctx, notify.Success, "Recording Started", "Now recording "+speaker.String())
	return nil
}

// Pause stops the engine but remembers the speaker for resuming.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.RecordingActive {
		c.mu.Unlock()
		return nil
	}
	c.stopEngineLocked()
	c.setRecordingLocked(ctx, false)
	speaker := c.state.ActiveSpeaker
	c.mu.Unlock()

	slog.Info("speech: recording paused", "speaker", speaker)
	c.emit(ctx, notify.Info, "Recording Paused", "Click a speaker to resume")
	return nil
}

// Stop stops the engine and clears the active speaker.
func (c *Controller) Stop(ctx context.Context) error {
	c.halt(ctx)
	slog.Info("speech: recording stopped")
	c.emit(ctx, notify.Info, "Recording Stopped", "Ready to generate SOAP note")
	return nil
}

// EmergencyStop behaves like Stop with a higher-severity notification.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.halt(ctx)
	slog.Warn("speech: emergency stop")
	c.emit(ctx, notify.Warning, "Emergency Stop", "All recording stopped immediately")
	return nil
}

// Reset stops capture silently and replaces the session state wholesale.
func (c *Controller) Reset(sessionID string, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopEngineLocked()
	c.setRecordingLocked(c.ctx, false)
	c.state = SessionState{SessionID: sessionID, StartTime: start}
	c.preview = ""
	c.restarts = 0
}

// Close stops the engine and releases the controller. Further starts fail.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopEngineLocked()
	c.setRecordingLocked(c.ctx, false)
	c.mu.Unlock()
	c.cancel()
	return nil
}

// SwitchSpeaker implements [voicecmd.Dispatcher].
func (c *Controller) SwitchSpeaker(ctx context.Context, speaker types.Speaker) error {
	return c.StartRecording(ctx, speaker)
}

// ParagraphBreak implements [voicecmd.Dispatcher].
func (c *Controller) ParagraphBreak(_ context.Context) error {
	c.mu.Lock()
	speaker := c.state.ActiveSpeaker
	c.mu.Unlock()
	if !speaker.IsValid() {
		return ErrNoActiveSpeaker
	}
	c.paragraphs.AppendParagraphBreak(speaker)
	return nil
}

// RequestSynthesis implements [voicecmd.Dispatcher].
func (c *Controller) RequestSynthesis(ctx context.Context) error {
	if c.synth == nil {
		return fmt.Errorf("speech: synthesis not configured")
	}
	return c.synth.RequestSynthesis(ctx)
}

var _ voicecmd.Dispatcher = (*Controller)(nil)

// ---- engine events ----

// sessionListener binds engine callbacks to the session generation that
// started them, so events from a stopped session are ignored.
type sessionListener struct {
	c   *Controller
	gen uint64
}

func (l *sessionListener) OnSessionStart()           { l.c.sessionStarted(l.gen) }
func (l *sessionListener) OnResult(results []Result) { l.c.sessionResults(l.gen, results) }
func (l *sessionListener) OnSessionEnd()             { l.c.sessionEnded(l.gen) }
func (l *sessionListener) OnError(err error)         { l.c.sessionError(l.gen, err) }

func (c *Controller) sessionStarted(gen uint64) {
	c.mu.Lock()
	current := gen == c.gen
	speaker := c.state.ActiveSpeaker
	c.mu.Unlock()
	if current {
		slog.Debug("speech: engine session started", "speaker", speaker)
	}
}

func (c *Controller) sessionResults(gen uint64, results []Result) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	var interim strings.Builder
	var finals []Result
	for _, r := range results {
		if r.IsFinal {
			finals = append(finals, r)
			continue
		}
		interim.WriteString(r.Text)
	}
	c.preview = interim.String()
	if len(results) > 0 {
		c.restarts = 0
	}
	c.mu.Unlock()

	ctx := c.ctx
	for _, r := range finals {
		action := voicecmd.Lookup(r.Text)
		consumed, err := voicecmd.Check(ctx, r.Text, c)
		if consumed {
			if err == nil && c.metrics != nil {
				c.metrics.RecordVoiceCommand(ctx, action.String())
			}
			continue
		}

		c.mu.Lock()
		live := gen == c.gen && c.state.RecordingActive
		speaker := c.state.ActiveSpeaker
		c.mu.Unlock()
		if !live || !speaker.IsValid() {
			continue
		}
		c.gate.Admit(ctx, speaker, r.Text, r.Confidence)
	}
}

func (c *Controller) sessionEnded(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed || !c.state.RecordingActive || !c.state.ActiveSpeaker.IsValid() {
		c.mu.Unlock()
		return
	}

	if !c.continuous {
		c.gen++
		c.setRecordingLocked(c.ctx, false)
		c.state.ActiveSpeaker = types.SpeakerNone
		c.preview = ""
		c.mu.Unlock()

		c.emit(c.ctx, notify.Info, "Recording Stopped", "Ready to generate SOAP note")
		return
	}

	if c.restarts >= c.maxRestarts {
		c.gen++
		c.setRecordingLocked(c.ctx, false)
		c.state.ActiveSpeaker = types.SpeakerNone
		c.preview = ""
		attempts := c.restarts
		c.mu.Unlock()

		slog.Error("speech: giving up on recognition session", "attempts", attempts, "error", ErrRestartsExhausted)
		c.emit(c.ctx, notify.Error, "Recognition Error",
			fmt.Sprintf("Speech recognition stopped after %d restart attempts", attempts))
		return
	}

	c.restarts++
	attempt := c.restarts
	c.cancelRestartLocked()
	c.timer = time.AfterFunc(c.restartDelay, func() { c.restart(gen) })
	c.mu.Unlock()

	slog.Debug("speech: session ended, restarting", "attempt", attempt, "delay", c.restartDelay)
	if c.metrics != nil {
		c.metrics.SessionRestarts.Add(c.ctx, 1)
	}
}

// restart starts a new engine session unless the session gen was stopped,
// paused or replaced in the meantime.
func (c *Controller) restart(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed || !c.state.RecordingActive {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.gen++
	newGen := c.gen
	c.mu.Unlock()

	if current, err := c.launch(newGen); current && err != nil {
		c.startFailed(newGen, err)
	}
}

// launch starts the engine session gen without holding c.mu. It reports
// whether gen is still the current recording once Start returns. A session
// that was stopped or superseded while starting is torn down again.
func (c *Controller) launch(gen uint64) (bool, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.isCurrent(gen) {
		return false, nil
	}
	err := c.engine.Start(c.ctx, &sessionListener{c: c, gen: gen})
	if c.isCurrent(gen) {
		return true, err
	}
	if err == nil {
		if stopErr := c.engine.Stop(); stopErr != nil {
			slog.Warn("speech: failed to stop superseded engine session", "error", stopErr)
		}
	}
	return false, nil
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && !c.closed && c.state.RecordingActive
}

// startFailed handles an engine that never started. An exhausted audio
// source ends the recording; anything else counts as an immediate session
// end so the bounded restart logic decides whether to keep trying.
func (c *Controller) startFailed(gen uint64, err error) {
	if !errors.Is(err, ErrSourceExhausted) {
		c.sessionError(gen, err)
		c.sessionEnded(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.cancelRestartLocked()
	c.setRecordingLocked(c.ctx, false)
	c.state.ActiveSpeaker = types.SpeakerNone
	c.preview = ""
	c.mu.Unlock()

	slog.Info("speech: audio source exhausted, recording stopped")
	c.emit(c.ctx, notify.Info, "Recording Stopped", "Audio source ended")
}

func (c *Controller) sessionError(gen uint64, err error) {
	kind := Classify(err)
	if kind == KindNoSpeech {
		slog.Debug("speech: no speech detected")
		return
	}

	c.mu.Lock()
	current := gen == c.gen
	attempt := c.restarts
	c.mu.Unlock()
	if !current {
		return
	}

	slog.Warn("speech: recognition error", "kind", kind, "attempt", attempt, "error", err)
	c.emit(c.ctx, notify.Error, "Recognition Error", errorMessage(kind, err))
}

// ---- helpers; callers hold c.mu ----

func (c *Controller) stopEngineLocked() {
	c.gen++
	c.cancelRestartLocked()
	if err := c.engine.Stop(); err != nil {
		slog.Warn("speech: failed to stop engine", "error", err)
	}
}

func (c *Controller) cancelRestartLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) setRecordingLocked(ctx context.Context, on bool) {
	if c.state.RecordingActive == on {
		return
	}
	c.state.RecordingActive = on
	if c.metrics == nil {
		return
	}
	if on {
		c.metrics.RecordingActive.Add(ctx, 1)
	} else {
		c.metrics.RecordingActive.Add(ctx, -1)
	}
}

func (c *Controller) halt(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopEngineLocked()
	c.setRecordingLocked(ctx, false)
	c.state.ActiveSpeaker = types.SpeakerNone
	c.preview = ""
}

func (c *Controller) emit(ctx context.Context, sev notify.Severity, title, msg string) {
	c.notifier.Notify(ctx, notify.Notification{Severity: sev, Title: title, Message: msg, Time: time.Now()})
}
