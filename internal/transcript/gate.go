package transcript

import (
	"context"
	"math"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/pkg/types"
)

// DefaultThreshold is the confidence threshold used when none is configured.
const DefaultThreshold = 0.7

// Gate admits finalized, non-command recognition results into a transcript
// when their confidence is at or above the threshold. Rejected results are
// dropped without any notification.
//
// The threshold may be changed at runtime with SetThreshold; Gate is safe for
// concurrent use.
type Gate struct {
	dst       Appender
	threshold atomic.Uint64
	metrics   *observe.Metrics
}

// GateOption is a functional option for [NewGate].
type GateOption func(*Gate)

// WithMetrics records every gate decision on m.
func WithMetrics(m *observe.Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

// NewGate returns a Gate writing into dst with the given threshold.
func NewGate(dst Appender, threshold float64, opts ...GateOption) *Gate {
	g := &Gate{dst: dst}
	g.SetThreshold(threshold)
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetThreshold replaces the confidence threshold.
func (g *Gate) SetThreshold(threshold float64) {
	g.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the current confidence threshold.
func (g *Gate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

// Admit appends text as a new utterance from speaker if confidence is at or
// above the threshold. Text is trimmed; blank text is never admitted.
func (g *Gate) Admit(ctx context.Context, speaker types.Speaker, text string, confidence float64) (types.Utterance, bool) {
	text = strings.TrimSpace(text)
	accepted := text != "" && confidence >= g.Threshold()
	if g.metrics != nil {
		g.metrics.RecordUtterance(ctx, speaker.String(), accepted)
	}
	if !accepted {
		return types.Utterance{}, false
	}
	return g.dst.Append(speaker, text, confidence), true
}
