package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential sources.
const (
	CredentialSourceEnv    = "env"
	CredentialSourceFile   = "file"
	CredentialSourceStatic = "static"
)

// Config represents the agencychat configuration
type Config struct {
	Chat        ChatConfig        `json:"chat" mapstructure:"chat"`
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ChatConfig holds the client session and transport settings
type ChatConfig struct {
	BaseURL           string `json:"base_url" mapstructure:"base_url"`
	Namespace         string `json:"namespace" mapstructure:"namespace"`
	HandshakeTimeout  int    `json:"handshake_timeout" mapstructure:"handshake_timeout"` // seconds
	ReconnectAttempts int    `json:"reconnect_attempts" mapstructure:"reconnect_attempts"`
	ReconnectDelay    int    `json:"reconnect_delay" mapstructure:"reconnect_delay"` // milliseconds
}

// CredentialsConfig selects where the bearer token comes from
type CredentialsConfig struct {
	Source        string `json:"source" mapstructure:"source"` // env, file, static
	Env           string `json:"env" mapstructure:"env"`
	File          string `json:"file" mapstructure:"file"`
	Token         string `json:"token" mapstructure:"token"`
	CheckExpiry   bool   `json:"check_expiry" mapstructure:"check_expiry"`
	ExpiryLeeway  int    `json:"expiry_leeway" mapstructure:"expiry_leeway"` // seconds
	WatchRotation bool   `json:"watch_rotation" mapstructure:"watch_rotation"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ServerConfig holds the reference chat server configuration
type ServerConfig struct {
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	Secret            string `json:"secret" mapstructure:"secret"`
	AgentID           string `json:"agent_id" mapstructure:"agent_id"`
	MessagesPerMinute int    `json:"messages_per_minute" mapstructure:"messages_per_minute"`
}

// MetricsConfig holds prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Chat: ChatConfig{
			BaseURL:           "http://127.0.0.1:8080",
			Namespace:         "/ai-chat",
			HandshakeTimeout:  10,
			ReconnectAttempts: 5,
			ReconnectDelay:    1000,
		},
		Credentials: CredentialsConfig{
			Source:        CredentialSourceEnv,
			Env:           "AGENCYCHAT_TOKEN",
			CheckExpiry:   true,
			ExpiryLeeway:  30,
			WatchRotation: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			AgentID:           "assistant",
			MessagesPerMinute: 60,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// HandshakeTimeoutDuration returns the handshake timeout as a duration.
func (c ChatConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// ReconnectDelayDuration returns the reconnect delay as a duration.
func (c ChatConfig) ReconnectDelayDuration() time.Duration {
	return time.Duration(c.ReconnectDelay) * time.Millisecond
}

// ExpiryLeewayDuration returns the expiry leeway as a duration.
func (c CredentialsConfig) ExpiryLeewayDuration() time.Duration {
	return time.Duration(c.ExpiryLeeway) * time.Second
}

// Addr returns the server listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Credentials.Token != "" {
		masked.Credentials.Token = "********"
	}
	if masked.Server.Secret != "" {
		masked.Server.Secret = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateBaseURL(c.Chat.BaseURL); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := v.ValidateNamespace(c.Chat.Namespace); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if c.Chat.HandshakeTimeout < 0 {
		return fmt.Errorf("chat: handshake_timeout cannot be negative")
	}
	if c.Chat.ReconnectDelay < 0 {
		return fmt.Errorf("chat: reconnect_delay cannot be negative")
	}

	if err := v.ValidateCredentials(c.Credentials); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := v.ValidatePort(c.Server.Port); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics: addr is required when metrics are enabled")
	}

	return nil
}
