package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/scope"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Store     StoreConfig       `yaml:"store"`
	Siblings  []SiblingConfig   `yaml:"siblings"`
	Search    SearchConfig      `yaml:"search"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	for i := range c.Siblings {
		if err := c.Siblings[i].Validate(); err != nil {
			return fmt.Errorf("siblings[%d]: %w", i, err)
		}
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the memory store root directory and its scope name.
type StoreConfig struct {
	Path  string `yaml:"path"`
	Scope string `yaml:"scope"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Scope == "" {
		c.Scope = scope.Project
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SiblingConfig names another scope's store root, consulted for
// cross-scope duplicate detection on create.
type SiblingConfig struct {
	Scope string `yaml:"scope"`
	Path  string `yaml:"path"`
}

// Validate validates a sibling entry.
func (c *SiblingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Scope, validation.Required),
		validation.Field(&c.Path, validation.Required),
	)
}

// SearchConfig controls the SQLite full-text sidecar. Path is relative
// to the store root when not absolute; empty means the default sidecar
// file inside the store.
type SearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EmbeddingConfig controls the embedding provider used for semantic
// similarity and auto-linking. Disabled by default; everything degrades
// gracefully without it.
type EmbeddingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	AutoLink  bool    `yaml:"auto_link"`
	Threshold float64 `yaml:"threshold"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Threshold, validation.Min(0.0), validation.Max(1.0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path:  "./memories",
			Scope: scope.Project,
		},
		Search: SearchConfig{
			Enabled: true,
		},
		Embedding: EmbeddingConfig{
			Enabled:   false,
			BaseURL:   embedding.DefaultBaseURL,
			Model:     embedding.DefaultModel,
			AutoLink:  false,
			Threshold: embedding.DefaultThreshold,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
