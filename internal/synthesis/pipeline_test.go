package synthesis_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/synthesis"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/medscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/medscribe/pkg/types"
)

type countingSaver struct {
	mu    sync.Mutex
	saves int
}

func (s *countingSaver) SaveNow(context.Context) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *countingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fixture struct {
	store    *transcript.Store
	doc      *note.Document
	feed     *notify.Feed
	saver    *countingSaver
	primary  *llmmock.Provider
	fallback *llmmock.Provider
	pipeline *synthesis.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    transcript.NewStore(),
		doc:      note.NewDocument(),
		feed:     notify.NewFeed(50, 0),
		saver:    &countingSaver{},
		primary:  &llmmock.Provider{},
		fallback: &llmmock.Provider{},
	}
	chain := synthesis.NewChain("openai", synthesis.NewProviderExtractor(f.primary))
	chain.Add("anthropic", synthesis.NewProviderExtractor(f.fallback))
	chain.Add("mock", synthesis.MockGenerator{})
	f.pipeline = synthesis.New(f.store, f.doc, chain,
		synthesis.WithNotifier(f.feed),
		synthesis.WithSaver(f.saver),
	)
	return f
}

func (f *fixture) seedConversation() {
	f.store.Append(types.SpeakerPrimary, "Patient reports chest pain for two days", 0.93)
	f.store.Append(types.SpeakerSecondary, "It's about a 6 out of 10", 0.88)
}

func (f *fixture) severities() map[notify.Severity][]string {
	out := map[notify.Severity][]string{}
	for _, n := range f.feed.All() {
		out[n.Severity] = append(out[n.Severity], n.Title)
	}
	return out
}

func statusErr(provider string, code int) error {
	return &llm.ProviderError{Provider: provider, StatusCode: code, Err: errors.New("request failed")}
}

func TestSynthesize_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()
	_ = f.doc.SetField(note.FieldID{Section: note.SectionPlan, Key: "medications"}, "Aspirin 81mg daily")
	f.primary.CompleteResponse = &llm.CompletionResponse{
		Content: "```json\n{\"assessment\":{\"primaryDiagnosis\":\"R07.89 - Other chest pain\"}}\n```",
	}

	res, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{Specialty: "cardiology", Quality: "standard"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Provider != "openai" || res.Fields != 1 {
		t.Errorf("result = %+v", res)
	}

	got := f.doc.Snapshot()
	if got.Assessment.PrimaryDiagnosis != "R07.89 - Other chest pain" {
		t.Errorf("primaryDiagnosis = %q", got.Assessment.PrimaryDiagnosis)
	}
	if got.Plan.Medications != "Aspirin 81mg daily" {
		t.Errorf("absent field was overwritten: %q", got.Plan.Medications)
	}

	last, _ := f.feed.Last()
	if last.Severity != notify.Success || last.Title != "SOAP Note Generated" {
		t.Errorf("last notification = %+v", last)
	}
	if f.fallback.CallCount() != 0 {
		t.Error("fallback must not be called when the primary succeeds")
	}
	if f.saver.count() != 1 {
		t.Errorf("saves = %d, want 1", f.saver.count())
	}

	prompt := f.primary.CompleteCalls[0].Req.Messages[0].Content
	want := "Clinician: Patient reports chest pain for two days\nPatient: It's about a 6 out of 10"
	if !strings.Contains(prompt, want) || !strings.Contains(prompt, "expert cardiology physician") {
		t.Errorf("prompt does not embed the conversation:\n%s", prompt)
	}
}

func TestSynthesize_FallbackOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	f.primary.CompleteErr = statusErr("openai", 500)
	f.primary.OnComplete = record("primary")
	f.fallback.CompleteResponse = &llm.CompletionResponse{Content: `{"assessment":{"primaryDiagnosis":"I20.9 - Angina pectoris"}}`}
	f.fallback.OnComplete = record("fallback")

	res, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Provider != "anthropic" {
		t.Errorf("provider = %q", res.Provider)
	}
	if got := f.doc.Snapshot().Assessment.PrimaryDiagnosis; got != "I20.9 - Angina pectoris" {
		t.Errorf("primaryDiagnosis = %q, want fallback payload", got)
	}
	if len(order) != 2 || order[0] != "primary" || order[1] != "fallback" {
		t.Errorf("call order = %v", order)
	}
}

func TestSynthesize_AllProvidersFailUsesMock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()
	f.primary.CompleteErr = statusErr("openai", 401)
	f.fallback.CompleteErr = statusErr("anthropic", 529)

	res, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{Specialty: "psychiatry"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Provider != "mock" {
		t.Errorf("provider = %q, want mock", res.Provider)
	}
	if f.doc.Snapshot() != synthesis.MockNote("psychiatry") {
		t.Error("document should hold the mock note")
	}
	if errs := f.severities()[notify.Error]; len(errs) != 0 {
		t.Errorf("unexpected error notifications: %v", errs)
	}
}

func TestSynthesize_EmptyTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := f.doc.Snapshot()

	_, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{})
	var noData *synthesis.NoDataError
	if !errors.As(err, &noData) {
		t.Fatalf("err = %v, want NoDataError", err)
	}
	if f.primary.CallCount()+f.fallback.CallCount() != 0 {
		t.Error("no provider may be called for an empty transcript")
	}
	last, _ := f.feed.Last()
	if last.Severity != notify.Warning || last.Title != "No Data" {
		t.Errorf("last notification = %+v", last)
	}
	if f.doc.Snapshot() != before {
		t.Error("document changed")
	}
	if f.saver.count() != 0 {
		t.Error("nothing to save")
	}
}

func TestSynthesize_ParseErrorKeepsRawText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()
	raw := "Sorry, I cannot format this as JSON. The patient has chest pain."
	f.primary.CompleteResponse = &llm.CompletionResponse{Content: raw}

	_, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{})
	var pe *synthesis.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	got := f.doc.Snapshot()
	if got.Subjective.ChiefComplaint != raw {
		t.Errorf("chiefComplaint = %q, want raw payload", got.Subjective.ChiefComplaint)
	}
	if got.Assessment.PrimaryDiagnosis != "" {
		t.Error("no other field may be written")
	}
	last, _ := f.feed.Last()
	if last.Severity != notify.Error || last.Title != "Parse Error" {
		t.Errorf("last notification = %+v", last)
	}
}

func TestSynthesize_BlankFieldsLeaveDocumentUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()
	cc := note.FieldID{Section: note.SectionSubjective, Key: "chiefComplaint"}
	_ = f.doc.SetField(cc, "Chest pain x2 days")
	before := f.doc.Snapshot()
	f.primary.CompleteResponse = &llm.CompletionResponse{
		Content: `{"subjective":{"chiefComplaint":""},"plan":{}}`,
	}

	res, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Fields != 0 || res.Provider != "openai" {
		t.Errorf("result = %+v, want 0 fields from openai", res)
	}
	if f.doc.Snapshot() != before {
		t.Errorf("document changed: %+v", f.doc.Snapshot())
	}
	last, _ := f.feed.Last()
	if last.Severity != notify.Success {
		t.Errorf("last notification = %+v", last)
	}
}

func TestSynthesize_SingleInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.primary.CompleteResponse = &llm.CompletionResponse{Content: `{"plan":{"followUp":"2 weeks"}}`}
	f.primary.OnComplete = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Synthesize(context.Background(), synthesis.Params{})
		done <- err
	}()
	<-entered

	if !f.pipeline.Running() {
		t.Error("Running() = false during a run")
	}
	if _, err := f.pipeline.Synthesize(t.Context(), synthesis.Params{}); !errors.Is(err, synthesis.ErrSynthesisInProgress) {
		t.Errorf("second run err = %v, want ErrSynthesisInProgress", err)
	}
	if err := f.pipeline.RequestSynthesis(t.Context()); !errors.Is(err, synthesis.ErrSynthesisInProgress) {
		t.Errorf("RequestSynthesis err = %v, want ErrSynthesisInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if f.primary.CallCount() != 1 {
		t.Errorf("primary calls = %d, want 1", f.primary.CallCount())
	}
	if got := f.severities()[notify.Warning]; len(got) != 2 || got[0] != "Synthesis In Progress" {
		t.Errorf("warnings = %v", got)
	}
}

func TestRequestSynthesis_RunsInBackground(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedConversation()
	f.pipeline.SetDefaults(synthesis.Params{Specialty: "pediatrics", Quality: "comprehensive"})
	f.primary.CompleteErr = statusErr("openai", 500)
	f.fallback.CompleteErr = statusErr("anthropic", 500)

	ctx, cancel := context.WithCancel(t.Context())
	if err := f.pipeline.RequestSynthesis(ctx); err != nil {
		t.Fatalf("RequestSynthesis: %v", err)
	}
	cancel()
	f.pipeline.Wait()

	if got := f.doc.Snapshot().PatientInfo.Name; got != "Emma Johnson" {
		t.Errorf("patient = %q, want pediatric mock note", got)
	}
	if f.pipeline.Last().Provider != "mock" {
		t.Errorf("Last() = %+v", f.pipeline.Last())
	}
	if f.pipeline.Running() {
		t.Error("Running() should be false after Wait")
	}
}
