// Package types defines the value types shared across MedScribe packages.
//
// Recognition results flow from speech providers into the session controller,
// utterances flow from the confidence gate into the transcript store, and both
// are read by exporters and the synthesis pipeline. Keeping them here avoids
// import cycles between those packages.
package types

import (
	"fmt"
	"time"
)

// Speaker identifies one of the two parties of a clinical conversation.
type Speaker int

const (
	// SpeakerNone means no speaker is selected.
	SpeakerNone Speaker = iota

	// SpeakerPrimary is the clinician.
	SpeakerPrimary

	// SpeakerSecondary is the patient.
	SpeakerSecondary
)

// String returns the display label used in transcripts and notifications.
func (s Speaker) String() string {
	switch s {
	case SpeakerPrimary:
		return "Clinician"
	case SpeakerSecondary:
		return "Patient"
	default:
		return "None"
	}
}

// IsValid reports whether s is one of the two conversation parties.
func (s Speaker) IsValid() bool {
	return s == SpeakerPrimary || s == SpeakerSecondary
}

// MarshalText encodes the speaker as its display label.
func (s Speaker) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the display labels as well as "primary"/"secondary".
func (s *Speaker) UnmarshalText(b []byte) error {
	v, err := ParseSpeaker(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSpeaker converts a label into a Speaker. Matching is case-sensitive on
// the canonical forms "Clinician", "clinician", "primary", "Patient",
// "patient" and "secondary".
func ParseSpeaker(label string) (Speaker, error) {
	switch label {
	case "Clinician", "clinician", "primary":
		return SpeakerPrimary, nil
	case "Patient", "patient", "secondary":
		return SpeakerSecondary, nil
	case "", "None", "none":
		return SpeakerNone, nil
	}
	return SpeakerNone, fmt.Errorf("types: unknown speaker %q", label)
}

// Utterance is one finalized, attributed segment of transcribed speech.
// Utterances are immutable once appended to a transcript, except for the
// paragraph-break suffix the transcript store may append to the latest one.
type Utterance struct {
	ID         string    `json:"id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Transcript represents a recognition result from a streaming speech provider.
// Both interim and final results use this type.
type Transcript struct {
	// Text is the recognized speech content.
	Text string

	// IsFinal is true once the provider has committed to the result.
	IsFinal bool

	// Confidence is the overall confidence score in [0, 1]. Providers that do
	// not report confidence leave it at zero.
	Confidence float64

	// Words carries per-word detail when the provider supplies it.
	Words []WordDetail

	// Timestamp marks when the segment started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the segment.
	Duration time.Duration
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint for recognition, such as a drug name.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
