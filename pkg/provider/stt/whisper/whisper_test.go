package whisper

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// ---- helpers ----

// speechPCM returns a 440 Hz sine wave well above the silence threshold.
func speechPCM(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silencePCM(samples int) []byte { return make([]byte, samples*2) }

type inferenceServer struct {
	*httptest.Server

	mu     sync.Mutex
	fields []map[string]string
}

func newInferenceServer(t *testing.T, body string, status int) *inferenceServer {
	t.Helper()
	s := &inferenceServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got := map[string]string{}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == "file" {
				got["file"] = string(data[:4])
				continue
			}
			got[part.FormName()] = string(data)
		}
		s.mu.Lock()
		s.fields = append(s.fields, got)
		s.mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) requests() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.fields...)
}

// ---- construction ----

func TestNew_EmptyServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	p, _ := New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- parsing ----

func TestParseInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantText string
		wantConf float64
	}{
		{
			name:     "plain text uses fallback",
			raw:      `{"text":" Patient denies fever. "}`,
			wantOK:   true,
			wantText: "Patient denies fever.",
			wantConf: 0.9,
		},
		{
			name:     "verbose json",
			raw:      `{"text":"ok","segments":[{"avg_logprob":-0.1},{"avg_logprob":-0.3}]}`,
			wantOK:   true,
			wantText: "ok",
			wantConf: math.Exp(-0.2),
		},
		{name: "missing text", raw: `{"segments":[]}`},
		{name: "invalid", raw: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, ok := parseInference([]byte(tt.raw), 0.9)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tr.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", tr.Text, tt.wantText)
			}
			if math.Abs(tr.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", tr.Confidence, tt.wantConf)
			}
			if !tr.IsFinal {
				t.Error("IsFinal = false, want true")
			}
		})
	}
}

func TestPrimarySubtag(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"en-US": "en", "de_DE": "de", "fr": "fr", "": ""} {
		if got := primarySubtag(in); got != want {
			t.Errorf("primarySubtag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()
	wav := encodeWAV(make([]byte, 320), 16000, 1)
	if len(wav) != 44+320 {
		t.Fatalf("len = %d, want %d", len(wav), 44+320)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("malformed RIFF header")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
}

func TestComputeRMS(t *testing.T) {
	t.Parallel()
	if got := computeRMS(silencePCM(160)); got != 0 {
		t.Errorf("silence RMS = %v, want 0", got)
	}
	if got := computeRMS(speechPCM(1600)); got < defaultRMSThreshold {
		t.Errorf("speech RMS = %v, want above threshold", got)
	}
	if got := computeRMS([]byte{1}); got != 0 {
		t.Errorf("short buffer RMS = %v, want 0", got)
	}
}

// ---- streaming ----

func TestSession_SilenceCommitsSegment(t *testing.T) {
	srv := newInferenceServer(t, `{"text":"Blood pressure is 120 over 80","segments":[{"avg_logprob":-0.05}]}`, http.StatusOK)

	p, err := New(srv.URL, WithSilenceThreshold(100*time.Millisecond), WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	_ = h.SendAudio(silencePCM(1600)) // leading silence is dropped
	_ = h.SendAudio(speechPCM(3200))
	_ = h.SendAudio(silencePCM(1600)) // 100ms of silence

	select {
	case tr := <-h.Finals():
		if tr.Text != "Blood pressure is 120 over 80" {
			t.Errorf("Text = %q", tr.Text)
		}
		if tr.Confidence < 0.9 {
			t.Errorf("Confidence = %v, want >= 0.9", tr.Confidence)
		}
		if tr.Duration != 300*time.Millisecond {
			t.Errorf("Duration = %v, want 300ms", tr.Duration)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	want := map[string]string{"file": "RIFF", "language": "en", "model": "base.en", "response_format": "verbose_json"}
	for k, v := range want {
		if reqs[0][k] != v {
			t.Errorf("field %s = %q, want %q", k, reqs[0][k], v)
		}
	}
}

func TestSession_CloseFlushesAndClosesChannels(t *testing.T) {
	srv := newInferenceServer(t, `{"text":"final words"}`, http.StatusOK)

	p, _ := New(srv.URL)
	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(speechPCM(1600))
	// Give the loop a moment to take the chunk before closing.
	time.Sleep(50 * time.Millisecond)
	_ = h.Close()

	var texts []string
	for tr := range h.Finals() {
		texts = append(texts, tr.Text)
	}
	if strings.Join(texts, "|") != "final words" {
		t.Errorf("finals = %v, want [final words]", texts)
	}
	if err := h.SendAudio(speechPCM(10)); err != stt.ErrSessionClosed {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

func TestSession_ServerErrorIsReported(t *testing.T) {
	srv := newInferenceServer(t, `boom`, http.StatusInternalServerError)

	p, _ := New(srv.URL)
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(speechPCM(1600))
	time.Sleep(50 * time.Millisecond)
	_ = h.Close()

	for range h.Finals() {
		t.Error("unexpected final")
	}
	if h.Err() == nil {
		t.Error("Err() = nil, want inference error")
	}
}
