// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for MedScribe.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PersistDriver selects the snapshot store.
type PersistDriver string

const (
	PersistMemory   PersistDriver = "memory"
	PersistSQLite   PersistDriver = "sqlite"
	PersistPostgres PersistDriver = "postgres"
)

// IsValid reports whether d is a recognised driver.
func (d PersistDriver) IsValid() bool {
	switch d {
	case PersistMemory, PersistSQLite, PersistPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig                 `yaml:"server"`
	Speech        SpeechConfig                 `yaml:"speech"`
	Synthesis     SynthesisConfig              `yaml:"synthesis"`
	Persist       PersistConfig                `yaml:"persist"`
	Notifications NotificationsConfig          `yaml:"notifications"`
	Validation    ValidationConfig             `yaml:"validation"`
	Templates     map[string]map[string]string `yaml:"templates"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	MCP MCPConfig `yaml:"mcp"`
}

// MCPConfig controls the MCP tool server.
type MCPConfig struct {
	// Stdio serves MCP on stdin/stdout instead of HTTP.
	Stdio bool `yaml:"stdio"`

	// HTTPPath mounts the streamable HTTP handler on the main listener.
	// Empty disables it.
	HTTPPath string `yaml:"http_path"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "deepgram").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// SpeechConfig configures recognition and the speech session.
type SpeechConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// Language is a BCP-47 code. Default: en-US.
	Language string `yaml:"language"`

	// SampleRate of the PCM input in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the PCM input. Default: 1.
	Channels int `yaml:"channels"`

	// Continuous restarts the recognition session whenever the engine ends
	// it. Default: true.
	Continuous *bool `yaml:"continuous"`

	InterimResults bool `yaml:"interim_results"`

	MaxAlternatives int `yaml:"max_alternatives"`

	// ConfidenceThreshold is the minimum confidence of an admitted
	// utterance. Default: 0.7.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// RestartDelay is the pause before an automatic restart. Default: 100ms.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestarts bounds consecutive restarts without a result. Default: 10.
	MaxRestarts int `yaml:"max_restarts"`

	// AudioSource is the path of a raw PCM stream (file or FIFO); "-" reads
	// stdin.
	AudioSource string `yaml:"audio_source"`

	// Keywords boosts recognition of domain vocabulary.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// IsContinuous reports the effective continuity flag.
func (s SpeechConfig) IsContinuous() bool {
	return s.Continuous == nil || *s.Continuous
}

// KeywordConfig is a recognition vocabulary hint.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// SynthesisConfig configures note synthesis.
type SynthesisConfig struct {
	// Primary is tried first, Fallback second. The deterministic mock
	// generator is always last.
	Primary  ProviderEntry `yaml:"primary"`
	Fallback ProviderEntry `yaml:"fallback"`

	DefaultSpecialty string `yaml:"default_specialty"`
	DefaultQuality   string `yaml:"default_quality"`

	// MaxTokens caps completion length. Default: 2000.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature. Default: 0.3.
	Temperature *float64 `yaml:"temperature"`

	// Timeout bounds a single provider call. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// Specialties adds or overrides specialty profiles.
	Specialties map[string]SpecialtyConfig `yaml:"specialties"`

	// Quality adds or overrides quality directives.
	Quality map[string]string `yaml:"quality"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// SpecialtyConfig is a prompt profile.
type SpecialtyConfig struct {
	Context string `yaml:"context"`
	Focus   string `yaml:"focus"`
}

// CircuitBreakerConfig tunes the per-provider breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// PersistConfig configures the snapshot store and auto-save.
type PersistConfig struct {
	// Driver is "memory" (default), "sqlite" or "postgres".
	Driver PersistDriver `yaml:"driver"`

	// Path of the SQLite database.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Interval between automatic saves. Default: 30s.
	Interval time.Duration `yaml:"interval"`

	// Restore loads the latest snapshot on start-up. Default: true.
	Restore *bool `yaml:"restore"`
}

// ShouldRestore reports the effective restore flag.
func (p PersistConfig) ShouldRestore() bool {
	return p.Restore == nil || *p.Restore
}

// NotificationsConfig configures notification retention and publishing.
type NotificationsConfig struct {
	// DisplayDuration is how long a notification counts as active.
	// Default: 5s.
	DisplayDuration time.Duration `yaml:"display_duration"`

	// History is the number of retained notifications. Default: 50.
	History int `yaml:"history"`

	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig enables event publishing when Servers is non-empty.
type NATSConfig struct {
	Servers        []string      `yaml:"servers"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ValidationConfig lists the required note fields.
type ValidationConfig struct {
	Required []RequiredField `yaml:"required"`
}

// RequiredField is a note field that must hold at least MinLength
// characters. Field uses the dotted form, e.g. "subjective.chiefComplaint".
type RequiredField struct {
	Field     string `yaml:"field"`
	MinLength int    `yaml:"min_length"`
}
