package transcript

import (
	"fmt"
	"strings"

	"github.com/MrWong99/medscribe/pkg/types"
)

// FormatText renders utts as a plain-text transcript with one
// "[HH:MM:SS] Speaker: text" line per utterance. Timestamps are printed in
// the location they carry.
func FormatText(utts []types.Utterance) string {
	var b strings.Builder
	for _, u := range utts {
		fmt.Fprintf(&b, "[%s] %s: %s\n", u.Timestamp.Format("15:04:05"), u.Speaker, u.Text)
	}
	return b.String()
}

// Search returns the utterances whose text contains query, ignoring case.
// An empty query matches nothing.
func Search(utts []types.Utterance, query string) []types.Utterance {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []types.Utterance
	for _, u := range utts {
		if strings.Contains(strings.ToLower(u.Text), q) {
			out = append(out, u)
		}
	}
	return out
}

// Stats summarises a transcript.
type Stats struct {
	Utterances        int     `json:"utterances"`
	ClinicianCount    int     `json:"clinicianCount"`
	PatientCount      int     `json:"patientCount"`
	Words             int     `json:"words"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// ComputeStats returns counts and the mean confidence of utts.
func ComputeStats(utts []types.Utterance) Stats {
	var st Stats
	var conf float64
	for _, u := range utts {
		st.Utterances++
		switch u.Speaker {
		case types.SpeakerPrimary:
			st.ClinicianCount++
		case types.SpeakerSecondary:
			st.PatientCount++
		}
		st.Words += len(strings.Fields(u.Text))
		conf += u.Confidence
	}
	if st.Utterances > 0 {
		st.AverageConfidence = conf / float64(st.Utterances)
	}
	return st
}
