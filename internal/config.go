package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/studiopack/internal/grafx"
	"github.com/starford/studiopack/internal/models"
)

// Auth modes of the local HTTP API.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Auth     AuthConfig        `yaml:"auth"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	GraFx    GraFxConfig       `yaml:"grafx"`
	Studio   StudioConfig      `yaml:"studio"`
	Download DownloadConfig    `yaml:"download"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Auth, &c.SQLite, &c.GraFx, &c.Studio, &c.Download} {
		if err := v.Validate(); err != nil {
			return err
		}
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

// SQLiteConfig holds the run history database. An empty path disables history.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return nil
}

// AuthConfig protects the local HTTP API.
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

// GraFxConfig points at the environment API and its credentials.
type GraFxConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	TokenURL     string        `yaml:"token_url"`
	Scopes       []string      `yaml:"scopes"`
	UseKeyring   bool          `yaml:"use_keyring"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Validate validates the environment configuration.
func (c *GraFxConfig) Validate() error {
	credentials := validation.When(c.ClientID != "", validation.Required)
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.ClientSecret, credentials),
		validation.Field(&c.TokenURL, credentials, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// AuthConfig converts the configuration for grafx.TokenSource.
func (c *GraFxConfig) AuthConfig() grafx.AuthConfig {
	return grafx.AuthConfig{
		BaseURL:      c.BaseURL,
		Token:        c.Token,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
		UseKeyring:   c.UseKeyring,
	}
}

// StudioConfig describes the file-backed editor session.
type StudioConfig struct {
	Document       string `yaml:"document"`
	OutputDocument string `yaml:"output_document"`
	TemplateID     string `yaml:"template_id"`
	TemplateName   string `yaml:"template_name"`
	EngineVersion  string `yaml:"engine_version"`
}

// Validate validates the session configuration.
func (c *StudioConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Document, validation.Required),
		validation.Field(&c.EngineVersion, validation.Required),
	)
}

// DownloadConfig controls where packages are written.
type DownloadConfig struct {
	OutputDir string                  `yaml:"output_dir"`
	Defaults  models.DownloadSettings `yaml:"defaults"`
}

// Validate validates the download configuration.
func (c *DownloadConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OutputDir, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8088,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		SQLite: SQLiteConfig{
			Path: "./studiopack.db",
		},
		GraFx: GraFxConfig{
			Timeout: 30 * time.Second,
		},
		Studio: StudioConfig{
			Document:      "./document.json",
			EngineVersion: "1.0.0",
		},
		Download: DownloadConfig{
			OutputDir: "./downloads",
		},
	}
}
