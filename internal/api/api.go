// Package api exposes the user commands, manual note edits and exports over
// HTTP. Every route lives under /api and speaks JSON unless noted:
//
//	GET    /api/session                   session state, preview, completion
//	POST   /api/session/new               start a new session
//	POST   /api/recording/start           body {"speaker": "clinician"}
//	POST   /api/recording/pause
//	POST   /api/recording/stop
//	POST   /api/recording/emergency
//	GET    /api/transcript?q=             utterances, optionally filtered
//	GET    /api/transcript/stats
//	GET    /api/transcript/export.txt     plain-text transcript
//	GET    /api/note
//	DELETE /api/note                      clear the note
//	PUT    /api/note/fields/{field}       body {"value": "..."}
//	POST   /api/note/synthesize           body {"specialty": "", "quality": ""}
//	POST   /api/note/templates/{name}
//	GET    /api/note/validation
//	GET    /api/note/export.json          export bundle
//	POST   /api/note/import               export bundle
//	GET    /api/notifications?active=true
//	POST   /api/save
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/speech"
	"github.com/MrWong99/medscribe/internal/synthesis"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/types"
)

// maxBodyBytes bounds request bodies, including imported bundles.
const maxBodyBytes = 4 << 20

// Service is the application surface the handlers drive.
type Service interface {
	Session() speech.SessionState
	Preview() string
	NewSession(ctx context.Context) string

	StartRecording(ctx context.Context, speaker types.Speaker) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context) error

	Transcript() []types.Utterance

	Note() note.Content
	Completion() int
	LastModified() time.Time
	SetField(ctx context.Context, id note.FieldID, value string) error
	ClearNote(ctx context.Context)
	Synthesize(ctx context.Context, params synthesis.Params) (synthesis.Result, error)
	ApplyTemplate(ctx context.Context, name string) (int, error)
	Validate(ctx context.Context) []note.Issue
	Suggestions() []string
	Bundle() note.Bundle
	Import(ctx context.Context, b note.Bundle) error

	Notifications(activeOnly bool) []notify.Notification
	Save(ctx context.Context) error
}

// Handler serves the API routes.
type Handler struct {
	svc Service
}

// New returns a Handler backed by svc.
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Register adds all API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", h.handleSession)
	mux.HandleFunc("POST /api/session/new", h.handleNewSession)

	mux.HandleFunc("POST /api/recording/start", h.handleStart)
	mux.HandleFunc("POST /api/recording/pause", h.command(h.svc.Pause))
	mux.HandleFunc("POST /api/recording/stop", h.command(h.svc.Stop))
	mux.HandleFunc("POST /api/recording/emergency", h.command(h.svc.EmergencyStop))

	mux.HandleFunc("GET /api/transcript", h.handleTranscript)
	mux.HandleFunc("GET /api/transcript/stats", h.handleStats)
	mux.HandleFunc("GET /api/transcript/export.txt", h.handleExportText)

	mux.HandleFunc("GET /api/note", h.handleNote)
	mux.HandleFunc("DELETE /api/note", h.handleClear)
	mux.HandleFunc("PUT /api/note/fields/{field}", h.handleSetField)
	mux.HandleFunc("POST /api/note/synthesize", h.handleSynthesize)
	mux.HandleFunc("POST /api/note/templates/{name}", h.handleTemplate)
	mux.HandleFunc("GET /api/note/validation", h.handleValidation)
	mux.HandleFunc("GET /api/note/export.json", h.handleExportJSON)
	mux.HandleFunc("POST /api/note/import", h.handleImport)

	mux.HandleFunc("GET /api/notifications", h.handleNotifications)
	mux.HandleFunc("POST /api/save", h.command(h.svc.Save))
}

type sessionResponse struct {
	speech.SessionState
	State      speech.State `json:"state"`
	Preview    string       `json:"preview"`
	Duration   string       `json:"duration"`
	Completion int          `json:"completion"`
}

func (h *Handler) handleSession(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Session()
	resp := sessionResponse{
		SessionState: st,
		State:        st.State(),
		Preview:      h.svc.Preview(),
		Completion:   h.svc.Completion(),
	}
	if !st.StartTime.IsZero() {
		resp.Duration = formatDuration(time.Since(st.StartTime))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id := h.svc.NewSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

type startRequest struct {
	Speaker types.Speaker `json:"speaker"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Speaker.IsValid() {
		writeError(w, http.StatusBadRequest, "speaker must be clinician or patient")
		return
	}
	if err := h.svc.StartRecording(r.Context(), req.Speaker); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Session())
}

// command adapts a no-argument operation to a handler answering 204.
func (h *Handler) command(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	utts := h.svc.Transcript()
	if q := r.URL.Query().Get("q"); q != "" {
		utts = transcript.Search(utts, q)
	}
	if utts == nil {
		utts = []types.Utterance{}
	}
	writeJSON(w, http.StatusOK, utts)
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, transcript.ComputeStats(h.svc.Transcript()))
}

func (h *Handler) handleExportText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transcript-`+h.svc.Session().SessionID+`.txt"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(transcript.FormatText(h.svc.Transcript())))
}

type noteResponse struct {
	Content      note.Content `json:"content"`
	Completion   int          `json:"completion"`
	LastModified time.Time    `json:"lastModified"`
}

func (h *Handler) handleNote(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, noteResponse{
		Content:      h.svc.Note(),
		Completion:   h.svc.Completion(),
		LastModified: h.svc.LastModified(),
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearNote(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type setFieldRequest struct {
	Value string `json:"value"`
}

func (h *Handler) handleSetField(w http.ResponseWriter, r *http.Request) {
	id, err := note.ParseFieldID(r.PathValue("field"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setFieldRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.SetField(r.Context(), id, req.Value); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"completion": h.svc.Completion()})
}

type synthesizeResponse struct {
	Provider   string       `json:"provider"`
	Fields     int          `json:"fields"`
	DurationMS int64        `json:"durationMs"`
	Content    note.Content `json:"content"`
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var params synthesis.Params
	if r.ContentLength != 0 && !decode(w, r, &params) {
		return
	}
	res, err := h.svc.Synthesize(r.Context(), params)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, synthesizeResponse{
		Provider:   res.Provider,
		Fields:     res.Fields,
		DurationMS: res.Duration.Milliseconds(),
		Content:    res.Content,
	})
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ApplyTemplate(r.Context(), r.PathValue("name"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fields": n})
}

type validationResponse struct {
	Valid       bool         `json:"valid"`
	Issues      []note.Issue `json:"issues"`
	Suggestions []string     `json:"suggestions"`
}

func (h *Handler) handleValidation(w http.ResponseWriter, r *http.Request) {
	issues := h.svc.Validate(r.Context())
	resp := validationResponse{
		Valid:       len(issues) == 0,
		Issues:      issues,
		Suggestions: h.svc.Suggestions(),
	}
	if resp.Issues == nil {
		resp.Issues = []note.Issue{}
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExportJSON(w http.ResponseWriter, _ *http.Request) {
	b := h.svc.Bundle()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="soap-note-`+b.Metadata.SessionID+`.json"`)
	w.WriteHeader(http.StatusOK)
	if err := note.WriteBundle(w, b); err != nil {
		slog.Warn("api: write bundle", "err", err)
	}
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	b, err := note.ReadBundle(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Import(r.Context(), b); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns := h.svc.Notifications(r.URL.Query().Get("active") == "true")
	if ns == nil {
		ns = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

// ---- helpers ----

type errorResponse struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	var noData *synthesis.NoDataError
	switch {
	case errors.Is(err, note.ErrUnknownField), errors.Is(err, speech.ErrNoActiveSpeaker):
		return http.StatusBadRequest
	case errors.Is(err, note.ErrUnknownTemplate):
		return http.StatusNotFound
	case errors.Is(err, synthesis.ErrSynthesisInProgress):
		return http.StatusConflict
	case errors.As(err, &noData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, speech.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("api: request failed", "err", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// formatDuration renders d as MM:SS, or HH:MM:SS from one hour on.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
