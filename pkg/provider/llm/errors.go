package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfigurationError reports a provider that cannot be called because its
// credential is missing or still set to a placeholder. No request is sent.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("llm: %s: configuration error: %s", e.Provider, e.Reason)
}

// ProviderError reports a non-success response from a back end.
// StatusCode is the HTTP status when the back end exposes one, zero otherwise.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// placeholderKey matches template values such as "your-openai-api-key-here".
var placeholderKey = regexp.MustCompile(`(?i)^your[-_].*[-_]here$`)

// CheckCredential returns a *ConfigurationError if apiKey is empty or a
// known placeholder value.
func CheckCredential(provider, apiKey string) error {
	key := strings.TrimSpace(apiKey)
	switch {
	case key == "":
		return &ConfigurationError{Provider: provider, Reason: "API key not configured"}
	case placeholderKey.MatchString(key):
		return &ConfigurationError{Provider: provider, Reason: "API key is a placeholder"}
	}
	return nil
}
