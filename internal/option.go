package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config      *Config
	logger      *slog.Logger
	version     string
	openBrowser bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the default logger of the mode.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithOpenBrowser opens the API root in the default browser once serving.
func WithOpenBrowser(open bool) Option {
	return func(a *application) {
		a.openBrowser = open
	}
}
