package speech

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"regexp"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "typed", err: fmt.Errorf("wrap: %w", &RecognitionError{Kind: KindAudioCapture}), want: KindAudioCapture},
		{name: "permission", err: &fs.PathError{Op: "open", Path: "/dev/snd", Err: fs.ErrPermission}, want: KindNotAllowed},
		{name: "net op", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, want: KindNetwork},
		{name: "plain", err: errors.New("boom"), want: KindOther},
		{name: "nil", err: nil, want: KindOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("%s: Classify() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	id := NewSessionID(now)
	if !regexp.MustCompile(`^SOAP-[0-9A-Z]+-[0-9A-Z]{5}$`).MatchString(id) {
		t.Errorf("NewSessionID() = %q, unexpected format", id)
	}
	if other := NewSessionID(now); other == id {
		t.Errorf("expected distinct ids, got %q twice", id)
	}
}
