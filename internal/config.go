package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pinboard/internal/store"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Save   SaveConfig        `yaml:"save"`
	Bridge BridgeConfig      `yaml:"bridge"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Save.Validate(); err != nil {
		return err
	}
	if err := c.Bridge.Validate(); err != nil {
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

// StoreConfig selects the document store engine.
// Path is the database file for "sqlite" and the card directory for "files".
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(store.BackendSQLite, store.BackendFiles)),
		validation.Field(&c.Path, validation.Required),
	)
}

// SaveConfig tunes the save pipeline.
type SaveConfig struct {
	// SlowAfter is how long shutdown waits on pending saves before
	// reporting them as slow.
	SlowAfter time.Duration `yaml:"slow_after"`
	// CloseTimeout bounds the drain when a window closes on its own.
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

// Validate validates the save configuration.
func (c *SaveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SlowAfter, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.CloseTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// BridgeConfig holds the presentation bridge settings.
type BridgeConfig struct {
	// Timeout bounds each command sent to a card window.
	Timeout time.Duration `yaml:"timeout"`
	// ReadyTimeout bounds the wait for a new window and its content host
	// to report ready. Cards that miss it fail to load.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// Validate validates the bridge configuration.
func (c *BridgeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ReadyTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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
			Backend: store.BackendSQLite,
			Path:    "./pinboard.db",
		},
		Save: SaveConfig{
			SlowAfter:    5 * time.Second,
			CloseTimeout: 10 * time.Second,
		},
		Bridge: BridgeConfig{
			Timeout:      10 * time.Second,
			ReadyTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
