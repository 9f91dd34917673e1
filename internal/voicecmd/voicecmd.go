// Package voicecmd intercepts spoken control phrases in finalized recognition
// results before they reach the transcript.
//
// Matching is an exact, case-insensitive comparison of the whitespace-trimmed
// text against a fixed phrase table. A command phrase embedded in a longer
// sentence ("please switch to patient now") is ordinary transcript content.
package voicecmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/medscribe/pkg/types"
)

// Action is a closed set of voice command actions.
type Action int

const (
	// ActionNone is returned by Lookup for text that is not a command.
	ActionNone Action = iota
	ActionSwitchPrimary
	ActionSwitchSecondary
	ActionParagraphBreak
	ActionGenerateNote
	ActionPause
	ActionStop
)

// String returns a stable snake_case name used in logs and metrics.
func (a Action) String() string {
	switch a {
	case ActionSwitchPrimary:
		return "switch_clinician"
	case ActionSwitchSecondary:
		return "switch_patient"
	case ActionParagraphBreak:
		return "new_paragraph"
	case ActionGenerateNote:
		return "generate_note"
	case ActionPause:
		return "pause"
	case ActionStop:
		return "stop"
	default:
		return "none"
	}
}

// phrases maps normalised command text to its action.
var phrases = map[string]Action{
	"switch to clinician": ActionSwitchPrimary,
	"switch to patient":   ActionSwitchSecondary,
	"new paragraph":       ActionParagraphBreak,
	"generate soap":       ActionGenerateNote,
	"pause recording":     ActionPause,
	"stop recording":      ActionStop,
}

// Phrases returns the command table as phrase/action pairs. The returned map
// is a copy.
func Phrases() map[string]Action {
	out := make(map[string]Action, len(phrases))
	for k, v := range phrases {
		out[k] = v
	}
	return out
}

// Lookup returns the action for text, or ActionNone.
func Lookup(text string) Action {
	return phrases[strings.ToLower(strings.TrimSpace(text))]
}

// Dispatcher carries out command actions. The speech session controller is
// the production implementation.
type Dispatcher interface {
	SwitchSpeaker(ctx context.Context, speaker types.Speaker) error
	ParagraphBreak(ctx context.Context) error
	RequestSynthesis(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Check reports whether text is a voice command and, if so, executes it on d.
// When consumed is true the text must not be added to the transcript, even if
// err is non-nil.
func Check(ctx context.Context, text string, d Dispatcher) (consumed bool, err error) {
	action := Lookup(text)
	if action == ActionNone {
		return false, nil
	}

	if err := dispatch(ctx, action, d); err != nil {
		slog.Warn("voicecmd: command failed",
			"action", action,
			"text", strings.TrimSpace(text),
			"error", err,
		)
		return true, fmt.Errorf("voicecmd: %s: %w", action, err)
	}

	slog.Info("voicecmd: command executed", "action", action)
	return true, nil
}

func dispatch(ctx context.Context, action Action, d Dispatcher) error {
	switch action {
	case ActionSwitchPrimary:
		return d.SwitchSpeaker(ctx, types.SpeakerPrimary)
	case ActionSwitchSecondary:
		return d.SwitchSpeaker(ctx, types.SpeakerSecondary)
	case ActionParagraphBreak:
		return d.ParagraphBreak(ctx)
	case ActionGenerateNote:
		return d.RequestSynthesis(ctx)
	case ActionPause:
		return d.Pause(ctx)
	case ActionStop:
		return d.Stop(ctx)
	case ActionNone:
		return nil
	default:
		return fmt.Errorf("unhandled action %d", int(action))
	}
}
