package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/types"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate:     16000,
		Channels:       1,
		InterimResults: true,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3-medical", q.Get("model"))
	assertEqual(t, "language", "en-US", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["alternatives"]; ok {
		t.Error("expected no alternatives param by default")
	}
}

func TestBuildURL_Overrides(t *testing.T) {
	p, err := New("key", WithModel("nova-3"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{MaxAlternatives: 3})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "alternatives", "3", q.Get("alternatives"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
}

func TestBuildURL_StreamLanguageWins(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		Keywords: []types.KeywordBoost{
			{Keyword: "lisinopril", Boost: 5},
			{Keyword: "atorvastatin", Boost: 3.5},
		},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["lisinopril:5"] || !found["atorvastatin:3.5"] {
		t.Errorf("unexpected keywords: %v", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantFinal bool
		wantText  string
	}{
		{
			name: "final",
			raw: `{"type":"Results","is_final":true,"start":1.5,"duration":2,
				"channel":{"alternatives":[{"transcript":"Patient reports chest pain","confidence":0.95,
				"words":[{"word":"Patient","start":1.5,"end":1.9,"confidence":0.97}]}]}}`,
			wantOK:    true,
			wantFinal: true,
			wantText:  "Patient reports chest pain",
		},
		{
			name:     "interim",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Patient","confidence":0.7}]}}`,
			wantOK:   true,
			wantText: "Patient",
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "no alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "invalid json", raw: `{invalid`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tr.IsFinal != tt.wantFinal {
				t.Errorf("IsFinal = %v, want %v", tr.IsFinal, tt.wantFinal)
			}
			assertEqual(t, "text", tt.wantText, tr.Text)
		})
	}
}

func TestParseDeepgramResponse_Timing(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"start":1.5,"duration":2,
		"channel":{"alternatives":[{"transcript":"ok","confidence":0.9,
		"words":[{"word":"ok","start":1.5,"end":1.75,"confidence":0.9}]}]}}`)
	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok")
	}
	if tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("Timestamp = %v, want 1.5s", tr.Timestamp)
	}
	if tr.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", tr.Duration)
	}
	if len(tr.Words) != 1 || tr.Words[0].End != 1750*time.Millisecond {
		t.Errorf("unexpected words: %+v", tr.Words)
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- Streaming round trip ----

func TestStartStream_RoundTrip(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotAudio := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		gotAudio <- data

		_ = conn.Write(ctx, websocket.MessageText, []byte(
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"it's about","confidence":0.6}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"It's about a 6 out of 10","confidence":0.92}]}}`))
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1, InterimResults: true})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	if auth := <-gotAuth; auth != "Token secret" {
		t.Errorf("Authorization = %q, want %q", auth, "Token secret")
	}
	if audio := <-gotAudio; len(audio) != 4 {
		t.Errorf("server received %d bytes, want 4", len(audio))
	}

	partial := <-sess.Partials()
	assertEqual(t, "partial", "it's about", partial.Text)

	final := <-sess.Finals()
	assertEqual(t, "final", "It's about a 6 out of 10", final.Text)

	// The server closed normally, so Finals drains and Err stays nil.
	for range sess.Finals() {
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after normal close", err)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
