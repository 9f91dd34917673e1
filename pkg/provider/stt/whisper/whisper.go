// Package whisper provides an on-premises recognizer backed by a whisper.cpp
// server, for deployments where audio must not leave the clinic network.
//
// whisper.cpp is a batch engine, so a session buffers incoming PCM, segments
// it with an energy-based silence detector and posts each segment to the
// server's POST /inference endpoint. Every committed segment is emitted as a
// partial and a final with the same text.
//
// Confidence is derived from the segment log-probabilities of the
// verbose_json response; when the server does not report them the configured
// default confidence is used so results are not rejected by the confidence
// gate.
//
//	p, err := whisper.New("http://localhost:8178", whisper.WithSilenceThreshold(600*time.Millisecond))
//	handle, err := p.StartStream(ctx, cfg)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/types"
)

const (
	bitsPerSample = 16

	// defaultRMSThreshold is the energy (in 16-bit PCM units) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage         = "en"
	defaultSampleRate       = 16000
	defaultSilenceThreshold = 500 * time.Millisecond
	defaultMaxSegment       = 15 * time.Second
	defaultConfidence       = 0.9
	defaultInferenceTimeout = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty uses the
// model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language. BCP-47 tags are reduced to their
// primary subtag ("en-US" becomes "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets how much trailing silence commits a segment.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxSegment bounds the audio buffered for one segment during
// continuous speech.
func WithMaxSegment(d time.Duration) Option {
	return func(p *Provider) { p.maxSegment = d }
}

// WithDefaultConfidence sets the confidence reported when the server
// response carries no log-probabilities.
func WithDefaultConfidence(c float64) Option {
	return func(p *Provider) { p.confidence = c }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	silence    time.Duration
	maxSegment time.Duration
	confidence float64
	client     *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:8178").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silence:    defaultSilenceThreshold,
		maxSegment: defaultMaxSegment,
		confidence: defaultConfidence,
		client:     &http.Client{Timeout: defaultInferenceTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No connection is made until the first
// segment is committed. Keyword boosts are ignored; whisper.cpp has no
// equivalent.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		p:          p,
		language:   primarySubtag(lang),
		sampleRate: sr,
		channels:   ch,
		audio:      make(chan []byte, 256),
		partials:   make(chan types.Transcript, 64),
		finals:     make(chan types.Transcript, 64),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s, nil
}

// ---- session ----

// session implements stt.SessionHandle. Buffering state is confined to
// processLoop.
type session struct {
	p          *Provider
	language   string
	sampleRate int
	channels   int

	audio    chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// SendAudio queues a chunk of 16-bit little-endian PCM.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

// Err returns the error of the most recent segment, or nil once a later
// segment succeeded. A failed segment does not end the session.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close commits any buffered speech, then closes both result channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
	)
	maxBytes := durationBytes(s.p.maxSegment, s.sampleRate, s.channels)

	commit := func(ctx context.Context) {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silence = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}
		t, err := s.infer(ctx, pcm)
		if err != nil {
			s.setErr(err)
			return
		}
		s.setErr(nil)
		if t.Text == "" {
			return
		}
		partial := t
		partial.IsFinal = false
		select {
		case s.partials <- partial:
		default:
		}
		select {
		case s.finals <- t:
		default:
		}
	}

	// The final commit outlives a cancelled ctx.
	finalCommit := func() {
		fc, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultInferenceTimeout)
		defer cancel()
		commit(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalCommit()
			return
		case <-s.done:
			finalCommit()
			return
		case chunk := <-s.audio:
			if computeRMS(chunk) < defaultRMSThreshold {
				if !hadSpeech {
					continue
				}
				silence += chunkDuration(chunk, s.sampleRate, s.channels)
				buffer = append(buffer, chunk...)
				if silence >= s.p.silence {
					commit(ctx)
				}
				continue
			}
			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			if maxBytes > 0 && len(buffer) >= maxBytes {
				commit(ctx)
			}
		}
	}
}

// infer posts pcm as a WAV upload and parses the verbose_json response.
func (s *session) infer(ctx context.Context, pcm []byte) (types.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, s.sampleRate, s.channels)); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        s.language,
		"model":           s.p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: write %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.client.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	t, ok := parseInference(data, s.p.confidence)
	if !ok {
		return types.Transcript{}, errors.New("whisper: malformed inference response")
	}
	t.Duration = chunkDuration(pcm, s.sampleRate, s.channels)
	return t, nil
}

// parseInference reads the text and derives a confidence from the mean
// segment avg_logprob. fallback is used when no segment reports one.
func parseInference(data []byte, fallback float64) (types.Transcript, bool) {
	if !gjson.ValidBytes(data) {
		return types.Transcript{}, false
	}
	root := gjson.ParseBytes(data)
	text := root.Get("text")
	if !text.Exists() {
		return types.Transcript{}, false
	}

	confidence := fallback
	var sum float64
	var n int
	root.Get("segments.#.avg_logprob").ForEach(func(_, v gjson.Result) bool {
		sum += v.Float()
		n++
		return true
	})
	if n > 0 {
		confidence = math.Min(1, math.Exp(sum/float64(n)))
	}

	return types.Transcript{
		Text:       strings.TrimSpace(text.String()),
		IsFinal:    true,
		Confidence: confidence,
	}, true
}

// ---- helpers ----

func primarySubtag(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}

// encodeWAV wraps 16-bit little-endian PCM in a RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// computeRMS returns the root-mean-square energy of 16-bit PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func chunkDuration(chunk []byte, sampleRate, channels int) time.Duration {
	bytesPerSec := sampleRate * channels * bitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(chunk)) * time.Second / time.Duration(bytesPerSec)
}

func durationBytes(d time.Duration, sampleRate, channels int) int {
	return int(d * time.Duration(sampleRate*channels*bitsPerSample/8) / time.Second)
}
