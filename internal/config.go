package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/notehub/internal/notestore"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Notehub NotehubConfig     `yaml:"notehub"`
	Auth    AuthConfig        `yaml:"auth"`
	Store   StoreConfig       `yaml:"store"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Notehub.Validate(); err != nil {
		return fmt.Errorf("notehub: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
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

// NotehubConfig describes the remote note store and how it is queried.
//
// Token and TokenFile are mutually exclusive; a token file is re-read when it
// changes.
type NotehubConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	TokenFile  string        `yaml:"token_file"`
	PerPage    int           `yaml:"per_page"`
	Timeout    time.Duration `yaml:"timeout"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Validate validates the notehub configuration.
func (c *NotehubConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.PerPage, validation.Required, validation.Min(1), validation.Max(50)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.StaleAfter, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Token != "" && c.TokenFile != "" {
		return errors.New("token and token_file are mutually exclusive")
	}
	return nil
}

// AuthConfig holds authentication configuration for the local API.
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

// StoreConfig configures the development note store served by "notehub store".
type StoreConfig struct {
	HTTP   HTTPConfig `yaml:"http"`
	SQLite string     `yaml:"sqlite_path"`
	Token  string     `yaml:"token"`
	Shape  string     `yaml:"shape"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Shape == "" {
		c.Shape = notestore.ShapeNotes
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.SQLite, validation.Required),
		validation.Field(&c.Shape, validation.In(notestore.ShapeNotes, notestore.ShapeItems)),
	)
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
		Notehub: NotehubConfig{
			BaseURL: "http://localhost:8081/api",
			PerPage: 12,
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Store: StoreConfig{
			HTTP:   HTTPConfig{Port: 8081},
			SQLite: "./notehub.db",
			Shape:  notestore.ShapeNotes,
		},
	}
}
