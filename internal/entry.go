// Package internal provides the application wiring shared by every command
// and the serve and MCP runtimes.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/browser"
	"golang.org/x/sync/errgroup"

	"github.com/starford/studiopack/internal/api"
	"github.com/starford/studiopack/internal/grafx"
	"github.com/starford/studiopack/internal/history"
	"github.com/starford/studiopack/internal/mcpserver"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/relay"
	"github.com/starford/studiopack/internal/sse"
	"github.com/starford/studiopack/internal/storage"
	"github.com/starford/studiopack/internal/studio"
)

// App is the wired application.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Client  *grafx.Client
	Service *packservice.Service
	Broker  *sse.Broker

	relay  *relay.Local
	db     *history.DB
	cancel context.CancelFunc
	done   chan struct{}
}

// NewApp wires the environment client, the editor session, the relay and
// the history store, and starts the relay. Close releases them.
func NewApp(ctx context.Context, opts ...Option) (*App, error) {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config
	logger := a.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	}

	tokens, err := grafx.TokenSource(ctx, cfg.GraFx.AuthConfig())
	if err != nil {
		return nil, fmt.Errorf("environment auth: %w", err)
	}
	client := grafx.New(cfg.GraFx.BaseURL, tokens,
		grafx.WithTimeout(cfg.GraFx.Timeout),
		grafx.WithLogger(logger),
	)

	docs, docPath, outPath, err := sessionStore(cfg.Studio)
	if err != nil {
		return nil, err
	}
	session := studio.NewLocal(docs, client, studio.Options{
		DocumentPath:  docPath,
		OutputPath:    outPath,
		TemplateID:    cfg.Studio.TemplateID,
		TemplateName:  cfg.Studio.TemplateName,
		EngineVersion: cfg.Studio.EngineVersion,
	})

	out, err := storage.EnsureFS(cfg.Download.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("init output dir: %w", err)
	}
	rl, err := relay.NewLocal(out, nil, logger)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Client: client, Broker: sse.NewBroker(500 * time.Millisecond), relay: rl}

	deps := packservice.Deps{
		SDK:      session,
		Env:      client,
		Relay:    relay.NewClient(rl, relay.DefaultTimeout, logger),
		Broker:   app.Broker,
		Defaults: cfg.Download.Defaults,
		Logger:   logger,
	}
	if cfg.SQLite.Path != "" {
		db, err := history.Open(cfg.SQLite.Path)
		if err != nil {
			rl.Close()
			app.Broker.Close()
			return nil, fmt.Errorf("init history: %w", err)
		}
		app.db = db
		deps.History = db
	}
	app.Service = packservice.New(deps)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.cancel = cancel
	app.done = make(chan struct{})
	go func() {
		defer close(app.done)
		if err := rl.Run(runCtx); err != nil {
			logger.Error("relay stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Debug("Application wired",
		slog.String("environment", cfg.GraFx.BaseURL),
		slog.String("document", cfg.Studio.Document),
		slog.String("output_dir", cfg.Download.OutputDir),
		slog.String("sqlite_path", cfg.SQLite.Path))
	return app, nil
}

// sessionStore roots the session store at the document's directory. The
// output document must live below it.
func sessionStore(cfg StudioConfig) (storage.Provider, string, string, error) {
	docAbs, err := filepath.Abs(cfg.Document)
	if err != nil {
		return nil, "", "", fmt.Errorf("resolve document: %w", err)
	}
	root := filepath.Dir(docAbs)
	store, err := storage.NewFS(root)
	if err != nil {
		return nil, "", "", fmt.Errorf("init session store: %w", err)
	}
	outPath := filepath.Base(docAbs)
	if cfg.OutputDocument != "" {
		outAbs, err := filepath.Abs(cfg.OutputDocument)
		if err != nil {
			return nil, "", "", fmt.Errorf("resolve output document: %w", err)
		}
		rel, err := filepath.Rel(root, outAbs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, "", "", fmt.Errorf("output document %s must be inside %s", cfg.OutputDocument, root)
		}
		outPath = filepath.ToSlash(rel)
	}
	return store, filepath.Base(docAbs), outPath, nil
}

// OutputDir returns the directory packages are written to.
func (a *App) OutputDir() string {
	return a.Config.Download.OutputDir
}

// Close stops the relay and closes the history store.
func (a *App) Close() error {
	a.cancel()
	<-a.done
	a.Broker.Close()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Run starts the HTTP API with the given options and blocks until a
// shutdown signal or ctx cancellation.
func Run(ctx context.Context, opts ...Option) error {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := a.config

	// Initialize structured JSON logger.
	logger := a.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("environment", cfg.GraFx.BaseURL),
		slog.String("output_dir", cfg.Download.OutputDir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	app, err := NewApp(ctx, append(opts, WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer app.Close()

	apiRouter := api.NewRouter(app.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, app.Broker, app.OutputDir())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.openBrowser {
		g.Go(func() error {
			url := fmt.Sprintf("http://localhost:%d/api/tasks", cfg.App.HTTP.Port)
			if err := browser.OpenURL(url); err != nil {
				logger.Warn("open browser failed", slog.String("url", url), slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP runs the MCP server on stdio. Logs go to stderr.
func ServeMCP(ctx context.Context, opts ...Option) error {
	a := &application{version: "dev"}
	for _, opt := range opts {
		opt(a)
	}
	app, err := NewApp(ctx, opts...)
	if err != nil {
		return err
	}
	defer app.Close()
	return mcpserver.New(app.Service, a.version).ServeStdio()
}
