package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Validator validates individual configuration values. The wizard uses it to re-prompt.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseURL accepts http, https, ws and wss URLs with a host.
func (v *Validator) ValidateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid base_url scheme %q (must be: http, https, ws, wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", raw)
	}
	return nil
}

// ValidateNamespace requires a path such as /ai-chat.
func (v *Validator) ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if !strings.HasPrefix(namespace, "/") {
		return fmt.Errorf("namespace %q must start with /", namespace)
	}
	if strings.ContainsAny(namespace, "?# ") {
		return fmt.Errorf("namespace %q contains invalid characters", namespace)
	}
	return nil
}

// ValidateCredentialSource validates the credential source name
func (v *Validator) ValidateCredentialSource(source string) error {
	switch source {
	case CredentialSourceEnv, CredentialSourceFile, CredentialSourceStatic:
		return nil
	default:
		return fmt.Errorf("invalid credential source %q (must be: env, file, static)", source)
	}
}

// ValidateCredentials checks that the selected source has what it needs.
func (v *Validator) ValidateCredentials(c CredentialsConfig) error {
	if err := v.ValidateCredentialSource(c.Source); err != nil {
		return err
	}

	switch c.Source {
	case CredentialSourceEnv:
		if c.Env == "" {
			return fmt.Errorf("env is required for the env credential source")
		}
	case CredentialSourceFile:
		if c.File == "" {
			return fmt.Errorf("file is required for the file credential source")
		}
	}

	if c.ExpiryLeeway < 0 {
		return fmt.Errorf("expiry_leeway cannot be negative")
	}
	return nil
}

// ValidateLogLevel accepts any zerolog level name.
func (v *Validator) ValidateLogLevel(level string) error {
	if level == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	return nil
}

// ValidatePort validates a port number
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
