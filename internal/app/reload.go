package app

import (
	"log/slog"

	"github.com/MrWong99/medscribe/internal/config"
)

// ApplyConfig applies the hot-reloadable parts of a changed configuration:
// log level, confidence threshold, synthesis defaults, validation rules and
// note templates. Changes to any other section are logged and wait for a
// restart. It is meant to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.HasChanges() {
		return
	}

	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}

	if d.ThresholdChanged {
		a.gate.SetThreshold(d.NewThreshold)
		slog.Info("app: confidence threshold changed", "threshold", d.NewThreshold)
	}

	if d.SynthesisDefaultsChanged {
		a.pipeline.SetDefaults(synthesisDefaults(new))
		slog.Info("app: synthesis defaults changed",
			"specialty", new.Synthesis.DefaultSpecialty,
			"quality", new.Synthesis.DefaultQuality,
		)
	}

	if d.ValidationChanged || len(d.TemplatesChanged) > 0 {
		if err := a.loadNoteSettings(new); err != nil {
			slog.Warn("app: keeping previous validation rules and templates", "err", err)
		} else {
			slog.Info("app: note settings reloaded",
				"validation_changed", d.ValidationChanged,
				"templates", d.TemplatesChanged,
			)
		}
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes require a restart", "sections", d.RestartRequired)
	}
}

// currentConfig returns the most recently applied configuration.
func (a *App) currentConfig() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}
