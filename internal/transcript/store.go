// Package transcript holds the ordered log of attributed utterances for the
// current session together with the confidence gate that admits finalized
// recognition results into it.
//
// The [Store] is the only mutable transcript in the process. Writers go
// through the [Gate] (new utterances) or [Store.AppendParagraphBreak]; all
// readers receive copies so a synthesis run or exporter never observes a
// half-applied mutation.
package transcript

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/medscribe/pkg/types"
)

// ParagraphBreak is appended to the latest utterance by the "new paragraph"
// voice command.
const ParagraphBreak = "\n\n"

// Reader is the read-only view of a transcript.
type Reader interface {
	// Utterances returns a copy of all utterances in chronological order.
	Utterances() []types.Utterance

	// Len returns the number of utterances.
	Len() int
}

// Appender is the write surface used by the confidence gate.
type Appender interface {
	Append(speaker types.Speaker, text string, confidence float64) types.Utterance
}

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithClock overrides the time source used to stamp new utterances.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides the utterance ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// Store is an ordered, append-only log of utterances. It is safe for
// concurrent use.
//
// Timestamps are monotonically non-decreasing: if the clock steps backwards
// the new utterance reuses the previous timestamp.
type Store struct {
	mu         sync.RWMutex
	utterances []types.Utterance
	now        func() time.Time
	newID      func() string
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append adds a new utterance and returns it.
func (s *Store) Append(speaker types.Speaker, text string, confidence float64) types.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if n := len(s.utterances); n > 0 {
		if last := s.utterances[n-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}

	u := types.Utterance{
		ID:         s.newID(),
		Speaker:    speaker,
		Text:       text,
		Timestamp:  ts,
		Confidence: confidence,
	}
	s.utterances = append(s.utterances, u)
	return u
}

// AppendParagraphBreak appends [ParagraphBreak] to the most recent utterance
// if it was spoken by speaker. Reports whether the transcript changed.
func (s *Store) AppendParagraphBreak(speaker types.Speaker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.utterances)
	if n == 0 || s.utterances[n-1].Speaker != speaker {
		return false
	}
	s.utterances[n-1].Text += ParagraphBreak
	return true
}

// Utterances implements [Reader].
func (s *Store) Utterances() []types.Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// Len implements [Reader].
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utterances)
}

// Clear removes all utterances.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = nil
}

// Restore replaces the content with utts, typically from a persisted
// snapshot or an imported bundle. The slice is copied and stably sorted by
// timestamp, so utterances recorded at the same instant keep their order.
func (s *Store) Restore(utts []types.Utterance) {
	cp := make([]types.Utterance, len(utts))
	copy(cp, utts)
	slices.SortStableFunc(cp, func(a, b types.Utterance) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = cp
}

// Conversation renders utts as a speaker-labelled plain-text conversation,
// one "Speaker: text" line per utterance in chronological order.
func Conversation(utts []types.Utterance) string {
	var b strings.Builder
	for i, u := range utts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.Speaker.String())
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}

var (
	_ Reader   = (*Store)(nil)
	_ Appender = (*Store)(nil)
)
