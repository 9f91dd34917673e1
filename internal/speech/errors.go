package speech

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind is the fixed taxonomy of recognition failures.
type ErrorKind string

const (
	KindNoSpeech     ErrorKind = "no-speech"
	KindAudioCapture ErrorKind = "audio-capture"
	KindNotAllowed   ErrorKind = "not-allowed"
	KindNetwork      ErrorKind = "network"
	KindOther        ErrorKind = "other"
)

// ErrNoActiveSpeaker is returned by operations that need a selected speaker.
var ErrNoActiveSpeaker = errors.New("speech: no active speaker")

// ErrEngineUnavailable is returned when no recognition provider is configured.
var ErrEngineUnavailable = errors.New("speech: no recognition engine configured")

// ErrRestartsExhausted is reported when the session ended too many times in
// a row without producing a result.
var ErrRestartsExhausted = errors.New("speech: restart limit reached")

// RecognitionError is an engine-reported failure classified by Kind.
type RecognitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("speech: recognition error: %s", e.Kind)
	}
	return fmt.Sprintf("speech: recognition error: %s: %v", e.Kind, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Classify maps err onto the taxonomy. A *RecognitionError keeps its kind;
// permission failures are not-allowed and network failures are network.
func Classify(err error) ErrorKind {
	var recErr *RecognitionError
	switch {
	case err == nil:
		return KindOther
	case errors.As(err, &recErr):
		return recErr.Kind
	case errors.Is(err, os.ErrPermission):
		return KindNotAllowed
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	return KindOther
}

// errorMessage is the user-facing text for a recognition failure.
func errorMessage(kind ErrorKind, err error) string {
	switch kind {
	case KindAudioCapture:
		return "Microphone not accessible"
	case KindNotAllowed:
		return "Microphone permission denied"
	case KindNetwork:
		return "Network error occurred"
	default:
		if err == nil {
			return "Recognition error: " + string(kind)
		}
		return "Recognition error: " + err.Error()
	}
}
