// Package mcp serves the transcript, the clinical note and note synthesis as
// Model Context Protocol tools, so agent clients can read the encounter and
// drive documentation. The server runs over stdio or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/speech"
	"github.com/MrWong99/medscribe/internal/synthesis"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/types"
)

// Service is the application surface exposed as tools.
type Service interface {
	Session() speech.SessionState
	Transcript() []types.Utterance
	Note() note.Content
	Completion() int
	SetField(ctx context.Context, id note.FieldID, value string) error
	Synthesize(ctx context.Context, params synthesis.Params) (synthesis.Result, error)
	ApplyTemplate(ctx context.Context, name string) (int, error)
	Validate(ctx context.Context) []note.Issue
	Suggestions() []string
}

// Server wraps an MCP server with the MedScribe tool set.
type Server struct {
	svc     Service
	srv     *sdk.Server
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records tool calls and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the server and registers every tool.
func NewServer(svc Service, version string, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, o := range opts {
		o(s)
	}
	s.srv = sdk.NewServer(&sdk.Implementation{Name: "medscribe", Version: version}, nil)
	s.registerTools()
	return s
}

// SDK returns the underlying server, e.g. for in-memory connections.
func (s *Server) SDK() *sdk.Server { return s.srv }

// RunStdio serves a single client on stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	slog.Info("mcp: serving on stdio")
	if err := s.srv.Run(ctx, &sdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: run stdio: %w", err)
	}
	return nil
}

// HTTPHandler returns a streamable HTTP handler for the server.
func (s *Server) HTTPHandler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return s.srv }, nil)
}

// ---- tool arguments ----

type transcriptArgs struct {
	Query string `json:"query,omitempty" jsonschema:"case-insensitive text to filter utterances by; empty returns the whole transcript"`
}

type setFieldArgs struct {
	Field string `json:"field" jsonschema:"dotted field id such as subjective.chiefComplaint or plan.followUp"`
	Value string `json:"value" jsonschema:"new field text"`
}

type generateArgs struct {
	Specialty string `json:"specialty,omitempty" jsonschema:"specialty profile: general, cardiology, pediatrics, psychiatry or emergency"`
	Quality   string `json:"quality,omitempty" jsonschema:"detail level: standard, detailed or comprehensive"`
}

type templateArgs struct {
	Name string `json:"name" jsonschema:"configured template name"`
}

type noArgs struct{}

func (s *Server) registerTools() {
	addTool(s, &sdk.Tool{
		Name:        "get_session",
		Description: "Return the current session id, recording state and active speaker.",
	}, s.getSession)

	addTool(s, &sdk.Tool{
		Name:        "get_transcript",
		Description: "Return the encounter transcript as [HH:MM:SS] Speaker: text lines.",
	}, s.getTranscript)

	addTool(s, &sdk.Tool{
		Name:        "get_note",
		Description: "Return the SOAP note as JSON together with its completion percentage.",
	}, s.getNote)

	addTool(s, &sdk.Tool{
		Name:        "set_field",
		Description: "Overwrite a single SOAP note field.",
	}, s.setField)

	addTool(s, &sdk.Tool{
		Name:        "generate_note",
		Description: "Generate the SOAP note from the transcript. Blocks until synthesis finishes.",
	}, s.generateNote)

	addTool(s, &sdk.Tool{
		Name:        "apply_template",
		Description: "Apply a configured field template to the SOAP note.",
	}, s.applyTemplate)

	addTool(s, &sdk.Tool{
		Name:        "validate_note",
		Description: "List required fields that need more detail and documentation suggestions.",
	}, s.validateNote)
}

// textHandler is the shape of every tool: a text result or an error that is
// reported to the client as a tool error.
type textHandler[In any] func(ctx context.Context, args In) (string, error)

// addTool registers h under t with uniform metrics and error reporting.
func addTool[In any](s *Server, t *sdk.Tool, h textHandler[In]) {
	name := t.Name
	sdk.AddTool(s.srv, t, func(ctx context.Context, _ *sdk.CallToolRequest, args In) (*sdk.CallToolResult, any, error) {
		start := time.Now()
		out, err := h(ctx, args)
		status := "ok"
		if err != nil {
			status = "error"
			out = err.Error()
			slog.Warn("mcp: tool failed", "tool", name, "err", err)
		}
		if s.metrics != nil {
			s.metrics.RecordToolCall(ctx, name, status)
			s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("tool", name)))
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: out}},
			IsError: err != nil,
		}, nil, nil
	})
}

func (s *Server) getSession(_ context.Context, _ noArgs) (string, error) {
	st := s.svc.Session()
	return marshal(struct {
		speech.SessionState
		State speech.State `json:"state"`
	}{st, st.State()})
}

func (s *Server) getTranscript(_ context.Context, args transcriptArgs) (string, error) {
	utts := s.svc.Transcript()
	if args.Query != "" {
		utts = transcript.Search(utts, args.Query)
	}
	if len(utts) == 0 {
		return "(no utterances)", nil
	}
	return transcript.FormatText(utts), nil
}

func (s *Server) getNote(_ context.Context, _ noArgs) (string, error) {
	return marshal(struct {
		Completion int          `json:"completion"`
		Content    note.Content `json:"content"`
	}{s.svc.Completion(), s.svc.Note()})
}

func (s *Server) setField(ctx context.Context, args setFieldArgs) (string, error) {
	id, err := note.ParseFieldID(args.Field)
	if err != nil {
		return "", err
	}
	if err := s.svc.SetField(ctx, id, args.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s updated; note is %d%% complete", note.Label(id), s.svc.Completion()), nil
}

func (s *Server) generateNote(ctx context.Context, args generateArgs) (string, error) {
	res, err := s.svc.Synthesize(ctx, synthesis.Params{Specialty: args.Specialty, Quality: args.Quality})
	if err != nil {
		return "", err
	}
	return marshal(struct {
		Provider string       `json:"provider"`
		Fields   int          `json:"fields"`
		Content  note.Content `json:"content"`
	}{res.Provider, res.Fields, res.Content})
}

func (s *Server) applyTemplate(ctx context.Context, args templateArgs) (string, error) {
	n, err := s.svc.ApplyTemplate(ctx, args.Name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("template %q applied to %d fields", args.Name, n), nil
}

func (s *Server) validateNote(ctx context.Context, _ noArgs) (string, error) {
	issues := s.svc.Validate(ctx)
	if issues == nil {
		issues = []note.Issue{}
	}
	suggestions := s.svc.Suggestions()
	if suggestions == nil {
		suggestions = []string{}
	}
	return marshal(struct {
		Valid       bool         `json:"valid"`
		Issues      []note.Issue `json:"issues"`
		Suggestions []string     `json:"suggestions"`
	}{len(issues) == 0, issues, suggestions})
}

func marshal(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("mcp: encode result: %w", err)
	}
	return string(b), nil
}
