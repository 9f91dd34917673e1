package synthesis

import (
	"errors"
	"fmt"
)

var (
	// ErrSynthesisInProgress is returned when a synthesis run is requested
	// while another one is still running.
	ErrSynthesisInProgress = errors.New("synthesis: already in progress")

	// ErrEmptyPayload marks a provider response without usable text.
	ErrEmptyPayload = errors.New("synthesis: empty payload")
)

// NoDataError is returned when synthesis is requested for an empty
// transcript. No provider is called.
type NoDataError struct{}

func (*NoDataError) Error() string { return "synthesis: no conversation to analyze" }

// ParseError reports a provider payload without a usable JSON note.
type ParseError struct {
	// Raw is the full payload as returned by the provider.
	Raw string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("synthesis: parse: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }
