package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrWong99/medscribe/internal/api"
	"github.com/MrWong99/medscribe/internal/mcp"
	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/speech"
	"github.com/MrWong99/medscribe/internal/synthesis"
	"github.com/MrWong99/medscribe/pkg/types"
)

var (
	_ api.Service = (*App)(nil)
	_ mcp.Service = (*App)(nil)
)

// Session returns the current session state.
func (a *App) Session() speech.SessionState { return a.ctrl.State() }

// Preview returns the interim recognition text.
func (a *App) Preview() string { return a.ctrl.Preview() }

// NewSession stops capture and starts over with an empty transcript and note.
// It returns the new session id.
func (a *App) NewSession(ctx context.Context) string {
	now := a.now()
	id := speech.NewSessionID(now)
	a.ctrl.Reset(id, now)
	a.transcript.Clear()
	a.doc.Reset()
	a.pipeline.SetDefaults(synthesisDefaults(a.currentConfig()))

	slog.Info("app: new session", "session_id", id)
	a.emit(ctx, notify.Success, "New Session", "Started new SOAP note session")
	a.save(ctx)
	return id
}

// StartRecording begins capturing speaker.
func (a *App) StartRecording(ctx context.Context, speaker types.Speaker) error {
	if a.engine == nil {
		return fmt.Errorf("app: start recording: %w", speech.ErrEngineUnavailable)
	}
	return a.ctrl.StartRecording(ctx, speaker)
}

// Pause pauses capture, keeping the speaker.
func (a *App) Pause(ctx context.Context) error { return a.ctrl.Pause(ctx) }

// Stop stops capture.
func (a *App) Stop(ctx context.Context) error { return a.ctrl.Stop(ctx) }

// EmergencyStop stops capture with a warning.
func (a *App) EmergencyStop(ctx context.Context) error { return a.ctrl.EmergencyStop(ctx) }

// Transcript returns a copy of the admitted utterances.
func (a *App) Transcript() []types.Utterance { return a.transcript.Utterances() }

// Note returns a copy of the clinical note.
func (a *App) Note() note.Content { return a.doc.Snapshot() }

// Completion returns the note completion percentage.
func (a *App) Completion() int { return a.doc.Completion() }

// LastModified returns when the note last changed.
func (a *App) LastModified() time.Time { return a.doc.LastModified() }

// SetField edits one note field.
func (a *App) SetField(_ context.Context, id note.FieldID, value string) error {
	return a.doc.SetField(id, value)
}

// ClearNote empties the note; the transcript is kept.
func (a *App) ClearNote(ctx context.Context) {
	a.doc.Reset()
	a.emit(ctx, notify.Success, "SOAP Note Cleared", "Ready for new conversation")
	a.save(ctx)
}

// Synthesize runs synthesis synchronously. Empty params fall back to the
// configured defaults, and the chosen specialty becomes the session
// specialty.
func (a *App) Synthesize(ctx context.Context, params synthesis.Params) (synthesis.Result, error) {
	defaults := a.pipeline.Defaults()
	if params.Specialty == "" {
		params.Specialty = defaults.Specialty
	}
	if params.Quality == "" {
		params.Quality = defaults.Quality
	}
	a.pipeline.SetDefaults(params)
	ctx = observe.WithSession(ctx, a.ctrl.State().SessionID)
	return a.pipeline.Synthesize(ctx, params)
}

// ApplyTemplate populates the note from the named template and returns the
// number of fields written.
func (a *App) ApplyTemplate(ctx context.Context, name string) (int, error) {
	a.mu.RLock()
	t, ok := a.templates[name]
	a.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("app: apply template %q: %w", name, note.ErrUnknownTemplate)
	}
	n, err := t.Apply(a.doc)
	if err != nil {
		return n, fmt.Errorf("app: apply template %q: %w", name, err)
	}
	a.emit(ctx, notify.Success, "Template Loaded", "SOAP note template applied successfully")
	a.save(ctx)
	return n, nil
}

// Validate checks the note against the configured rules.
func (a *App) Validate(ctx context.Context) []note.Issue {
	a.mu.RLock()
	rules := a.rules
	a.mu.RUnlock()

	issues := note.Validate(a.doc.Snapshot(), rules)
	if len(issues) == 0 {
		a.emit(ctx, notify.Success, "Validation Passed", "SOAP note meets quality standards")
	} else {
		a.emit(ctx, notify.Warning, "Validation Issues", strconv.Itoa(len(issues))+" items need attention")
	}
	return issues
}

// Suggestions returns improvement hints for the note.
func (a *App) Suggestions() []string { return note.Suggest(a.doc.Snapshot()) }

// Bundle exports the note together with the transcript.
func (a *App) Bundle() note.Bundle {
	return note.NewBundle(note.Metadata{
		SessionID:   a.ctrl.State().SessionID,
		GeneratedAt: a.now(),
		Specialty:   a.pipeline.Defaults().Specialty,
		Provider:    a.pipeline.Last().Provider,
	}, a.doc.Snapshot(), a.transcript.Utterances())
}

// Import replaces the note and transcript with the contents of b.
func (a *App) Import(ctx context.Context, b note.Bundle) error {
	if a.pipeline.Running() {
		return fmt.Errorf("app: import: %w", synthesis.ErrSynthesisInProgress)
	}
	a.doc.Replace(b.Content())
	a.transcript.Restore(b.OriginalTranscript)
	if b.Metadata.Specialty != "" {
		params := a.pipeline.Defaults()
		params.Specialty = b.Metadata.Specialty
		a.pipeline.SetDefaults(params)
	}
	a.emit(ctx, notify.Success, "Note Imported", fmt.Sprintf("Loaded %d utterances", len(b.OriginalTranscript)))
	a.save(ctx)
	return nil
}

// Notifications returns the retained notifications, or only the active ones.
func (a *App) Notifications(activeOnly bool) []notify.Notification {
	if activeOnly {
		return a.feed.Active()
	}
	return a.feed.All()
}

// Save persists the session immediately.
func (a *App) Save(ctx context.Context) error {
	if err := a.saver.SaveNow(ctx); err != nil {
		return fmt.Errorf("app: save: %w", err)
	}
	return nil
}

func (a *App) emit(ctx context.Context, sev notify.Severity, title, msg string) {
	a.notifier.Notify(ctx, notify.Notification{Severity: sev, Title: title, Message: msg})
}

// save is the best-effort save after a user mutation.
func (a *App) save(ctx context.Context) {
	if err := a.saver.SaveNow(ctx); err != nil {
		slog.Warn("app: save failed", "err", err)
	}
}
