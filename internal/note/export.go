package note

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/medscribe/pkg/types"
)

// Metadata describes where an exported note came from.
type Metadata struct {
	SessionID   string    `json:"sessionId"`
	GeneratedAt time.Time `json:"generatedAt"`
	Specialty   string    `json:"specialty"`
	Provider    string    `json:"provider"`
}

// SOAP groups the four clinical sections of an export.
type SOAP struct {
	Subjective Subjective `json:"subjective"`
	Objective  Objective  `json:"objective"`
	Assessment Assessment `json:"assessment"`
	Plan       Plan       `json:"plan"`
}

// Bundle is the JSON export of a note together with the transcript it was
// synthesised from.
type Bundle struct {
	Metadata           Metadata          `json:"metadata"`
	PatientInfo        PatientInfo       `json:"patientInfo"`
	SOAP               SOAP              `json:"soap"`
	OriginalTranscript []types.Utterance `json:"originalTranscript"`
}

// NewBundle assembles an export from the live note and transcript.
func NewBundle(meta Metadata, c Content, transcript []types.Utterance) Bundle {
	if transcript == nil {
		transcript = []types.Utterance{}
	}
	return Bundle{
		Metadata:    meta,
		PatientInfo: c.PatientInfo,
		SOAP: SOAP{
			Subjective: c.Subjective,
			Objective:  c.Objective,
			Assessment: c.Assessment,
			Plan:       c.Plan,
		},
		OriginalTranscript: transcript,
	}
}

// Content returns the note held by the bundle.
func (b Bundle) Content() Content {
	return Content{
		PatientInfo: b.PatientInfo,
		Subjective:  b.SOAP.Subjective,
		Objective:   b.SOAP.Objective,
		Assessment:  b.SOAP.Assessment,
		Plan:        b.SOAP.Plan,
	}
}

// WriteBundle encodes b as indented JSON.
func WriteBundle(w io.Writer, b Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("note: write bundle: %w", err)
	}
	return nil
}

// ReadBundle decodes a bundle previously written by [WriteBundle].
func ReadBundle(r io.Reader) (Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("note: read bundle: %w", err)
	}
	return b, nil
}
