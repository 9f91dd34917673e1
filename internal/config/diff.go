package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported individually; everything that needs a
// restart is collected in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	SynthesisDefaultsChanged bool
	ValidationChanged        bool

	// TemplatesChanged lists added, removed or modified template names.
	TemplatesChanged []string

	// RestartRequired names the config sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HasChanges reports whether the diff contains anything at all.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.SynthesisDefaultsChanged ||
		d.ValidationChanged || len(d.TemplatesChanged) > 0 || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Speech.ConfidenceThreshold != new.Speech.ConfidenceThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Speech.ConfidenceThreshold
	}

	if old.Synthesis.DefaultSpecialty != new.Synthesis.DefaultSpecialty ||
		old.Synthesis.DefaultQuality != new.Synthesis.DefaultQuality {
		d.SynthesisDefaultsChanged = true
	}

	if !slices.Equal(old.Validation.Required, new.Validation.Required) {
		d.ValidationChanged = true
	}

	d.TemplatesChanged = diffTemplates(old.Templates, new.Templates)

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.MCP != new.Server.MCP {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(speechStatic(old.Speech), speechStatic(new.Speech)) {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if !reflect.DeepEqual(synthesisStatic(old.Synthesis), synthesisStatic(new.Synthesis)) {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if !reflect.DeepEqual(old.Persist, new.Persist) {
		d.RestartRequired = append(d.RestartRequired, "persist")
	}
	if !reflect.DeepEqual(old.Notifications, new.Notifications) {
		d.RestartRequired = append(d.RestartRequired, "notifications")
	}

	return d
}

// speechStatic strips the hot-reloadable speech fields.
func speechStatic(s SpeechConfig) SpeechConfig {
	s.ConfidenceThreshold = 0
	return s
}

// synthesisStatic strips the hot-reloadable synthesis fields.
func synthesisStatic(s SynthesisConfig) SynthesisConfig {
	s.DefaultSpecialty = ""
	s.DefaultQuality = ""
	return s
}

func diffTemplates(old, new map[string]map[string]string) []string {
	var changed []string
	for name, ov := range old {
		nv, ok := new[name]
		if !ok || !maps.Equal(ov, nv) {
			changed = append(changed, name)
		}
	}
	for name := range new {
		if _, ok := old[name]; !ok {
			changed = append(changed, name)
		}
	}
	slices.Sort(changed)
	return changed
}
