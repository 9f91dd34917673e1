package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/medscribe/internal/note"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	s := &cfg.Speech
	if s.Language == "" {
		s.Language = "en-US"
	}
	if s.SampleRate == 0 {
		s.SampleRate = 16000
	}
	if s.Channels == 0 {
		s.Channels = 1
	}
	if s.ConfidenceThreshold == 0 {
		s.ConfidenceThreshold = 0.7
	}
	if s.RestartDelay == 0 {
		s.RestartDelay = 100 * time.Millisecond
	}
	if s.MaxRestarts == 0 {
		s.MaxRestarts = 10
	}

	syn := &cfg.Synthesis
	if syn.DefaultSpecialty == "" {
		syn.DefaultSpecialty = "general"
	}
	if syn.DefaultQuality == "" {
		syn.DefaultQuality = "standard"
	}
	if syn.MaxTokens == 0 {
		syn.MaxTokens = 2000
	}
	if syn.Temperature == nil {
		t := 0.3
		syn.Temperature = &t
	}
	if syn.Timeout == 0 {
		syn.Timeout = 60 * time.Second
	}

	if cfg.Persist.Driver == "" {
		cfg.Persist.Driver = PersistMemory
	}
	if cfg.Persist.Interval == 0 {
		cfg.Persist.Interval = 30 * time.Second
	}

	if cfg.Notifications.DisplayDuration == 0 {
		cfg.Notifications.DisplayDuration = 5 * time.Second
	}
	if cfg.Notifications.History == 0 {
		cfg.Notifications.History = 50
	}

	if len(cfg.Validation.Required) == 0 {
		for _, r := range note.DefaultRules() {
			cfg.Validation.Required = append(cfg.Validation.Required,
				RequiredField{Field: r.Field.String(), MinLength: r.MinLength})
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MCP.HTTPPath != "" && cfg.Server.MCP.HTTPPath[0] != '/' {
		errs = append(errs, fmt.Errorf("server.mcp.http_path %q must start with /", cfg.Server.MCP.HTTPPath))
	}

	s := cfg.Speech
	validateProviderName("stt", s.Provider.Name)
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech.confidence_threshold %.2f is out of range [0, 1]", s.ConfidenceThreshold))
	}
	if s.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d must not be negative", s.SampleRate))
	}
	if s.MaxAlternatives < 0 {
		errs = append(errs, fmt.Errorf("speech.max_alternatives %d must not be negative", s.MaxAlternatives))
	}
	if s.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("speech.max_restarts %d must not be negative", s.MaxRestarts))
	}
	if s.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("speech.restart_delay %v must not be negative", s.RestartDelay))
	}
	for i, kw := range s.Keywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("speech.keywords[%d].keyword is required", i))
		}
	}
	if s.Provider.Name != "" && s.AudioSource == "" {
		slog.Warn("speech.provider is configured but speech.audio_source is empty; recording will fail to start")
	}

	syn := cfg.Synthesis
	validateProviderName("llm", syn.Primary.Name)
	validateProviderName("llm", syn.Fallback.Name)
	if syn.Primary.Name == "" && syn.Fallback.Name == "" {
		slog.Warn("no synthesis provider configured; notes will come from the mock generator")
	}
	if syn.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_tokens %d must not be negative", syn.MaxTokens))
	}
	if syn.Temperature != nil && (*syn.Temperature < 0 || *syn.Temperature > 2) {
		errs = append(errs, fmt.Errorf("synthesis.temperature %.2f is out of range [0, 2]", *syn.Temperature))
	}
	for name, sp := range syn.Specialties {
		if sp.Context == "" {
			errs = append(errs, fmt.Errorf("synthesis.specialties.%s.context is required", name))
		}
	}

	if cfg.Persist.Driver != "" && !cfg.Persist.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("persist.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Persist.Driver))
	}
	if cfg.Persist.Driver == PersistSQLite && cfg.Persist.Path == "" {
		errs = append(errs, errors.New("persist.path is required when driver is sqlite"))
	}
	if cfg.Persist.Driver == PersistPostgres && cfg.Persist.DSN == "" {
		errs = append(errs, errors.New("persist.dsn is required when driver is postgres"))
	}
	if cfg.Persist.Interval < 0 {
		errs = append(errs, fmt.Errorf("persist.interval %v must not be negative", cfg.Persist.Interval))
	}

	if cfg.Notifications.History < 0 {
		errs = append(errs, fmt.Errorf("notifications.history %d must not be negative", cfg.Notifications.History))
	}

	if _, err := cfg.ValidationRules(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.NoteTemplates(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidationRules converts the required-field list into note rules.
func (c *Config) ValidationRules() ([]note.Rule, error) {
	var (
		rules []note.Rule
		errs  []error
	)
	for i, r := range c.Validation.Required {
		id, err := note.ParseFieldID(r.Field)
		if err != nil {
			errs = append(errs, fmt.Errorf("validation.required[%d]: %w", i, err))
			continue
		}
		if r.MinLength < 0 {
			errs = append(errs, fmt.Errorf("validation.required[%d].min_length %d must not be negative", i, r.MinLength))
			continue
		}
		rules = append(rules, note.Rule{Field: id, MinLength: r.MinLength})
	}
	return rules, errors.Join(errs...)
}

// NoteTemplates parses the configured templates keyed by name.
func (c *Config) NoteTemplates() (map[string]note.Template, error) {
	out := make(map[string]note.Template, len(c.Templates))
	var errs []error
	for name, values := range c.Templates {
		t, err := note.ParseTemplate(name, values)
		if err != nil {
			errs = append(errs, fmt.Errorf("templates: %w", err))
			continue
		}
		out[name] = t
	}
	return out, errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
