// Package studio is the editor session adapter the package workflows run against.
package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/studiopack/internal/document"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/storage"
)

// Configuration keys understood by ConfigValue.
const (
	KeyEnvironmentAPI = "ENVIRONMENT_API"
	KeyAuthToken      = "AUTH_TOKEN"
	KeyTemplateID     = "TEMPLATE_ID"
	KeyTemplateName   = "TEMPLATE_NAME"
	KeyEngineVersion  = "ENGINE_VERSION"
)

// ErrUnknownConnector is returned for local connector ids that are not registered.
var ErrUnknownConnector = errors.New("studio: connector not registered")

// SDK is the capability surface of a live editor session. Every call is
// fallible.
type SDK interface {
	ConfigValue(ctx context.Context, key string) (string, error)
	DocumentState(ctx context.Context) ([]byte, error)
	LoadDocument(ctx context.Context, data []byte) error
	FontFamilies(ctx context.Context) ([]models.DocumentFontFamily, error)
	RegisterConnector(ctx context.Context, remoteID string) (string, error)
	UnregisterConnector(ctx context.Context, localID string) error
	QueryConnector(ctx context.Context, localID string, opts models.QueryOptions) (models.QueryPage[models.MediaItem], error)
}

// Environment is the remote side a Local session queries.
type Environment interface {
	BaseURL() string
	Token() (string, error)
	QueryMedia(ctx context.Context, connectorID string, opts models.QueryOptions) (models.QueryPage[models.MediaItem], error)
}

// Options describe a file-backed session.
type Options struct {
	// DocumentPath is the document file, relative to the store root.
	DocumentPath string
	// OutputPath receives loaded documents; defaults to DocumentPath.
	OutputPath    string
	TemplateID    string
	TemplateName  string
	EngineVersion string
}

// Local is a file-backed session: the document lives in a store and
// connector queries go to the environment API.
type Local struct {
	store storage.Provider
	env   Environment
	opts  Options

	mu       sync.Mutex
	registry map[string]string // local id -> remote id
}

// NewLocal creates a file-backed session.
func NewLocal(store storage.Provider, env Environment, opts Options) *Local {
	if opts.OutputPath == "" {
		opts.OutputPath = opts.DocumentPath
	}
	return &Local{store: store, env: env, opts: opts, registry: make(map[string]string)}
}

// ConfigValue returns a session configuration value.
func (l *Local) ConfigValue(_ context.Context, key string) (string, error) {
	switch key {
	case KeyEnvironmentAPI:
		return l.env.BaseURL(), nil
	case KeyAuthToken:
		return l.env.Token()
	case KeyTemplateID:
		return l.opts.TemplateID, nil
	case KeyTemplateName:
		return l.opts.TemplateName, nil
	case KeyEngineVersion:
		return l.opts.EngineVersion, nil
	}
	return "", fmt.Errorf("studio: unknown config key %q", key)
}

// DocumentState returns the current document JSON.
func (l *Local) DocumentState(_ context.Context) ([]byte, error) {
	if l.opts.DocumentPath == "" {
		return nil, fmt.Errorf("studio: no document configured")
	}
	return l.store.Read(l.opts.DocumentPath)
}

// LoadDocument replaces the session document.
func (l *Local) LoadDocument(_ context.Context, data []byte) error {
	doc, err := document.Parse(data)
	if err != nil {
		return err
	}
	out, err := document.MarshalIndent(doc)
	if err != nil {
		return err
	}
	return l.store.Write(l.opts.OutputPath, out)
}

// FontFamilies returns the font families used by the document.
func (l *Local) FontFamilies(ctx context.Context) ([]models.DocumentFontFamily, error) {
	data, err := l.DocumentState(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, err
	}
	return doc.FontFamilies()
}

// RegisterConnector makes a remote connector queryable under a fresh local id.
func (l *Local) RegisterConnector(_ context.Context, remoteID string) (string, error) {
	if remoteID == "" {
		return "", fmt.Errorf("studio: empty connector id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.NewString()
	l.registry[id] = remoteID
	return id, nil
}

// UnregisterConnector releases a local id. Releasing twice fails.
func (l *Local) UnregisterConnector(_ context.Context, localID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.registry[localID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, localID)
	}
	delete(l.registry, localID)
	return nil
}

// QueryConnector queries the remote connector behind a local id.
func (l *Local) QueryConnector(ctx context.Context, localID string, opts models.QueryOptions) (models.QueryPage[models.MediaItem], error) {
	l.mu.Lock()
	remoteID, ok := l.registry[localID]
	l.mu.Unlock()
	if !ok {
		return models.QueryPage[models.MediaItem]{}, fmt.Errorf("%w: %s", ErrUnknownConnector, localID)
	}
	return l.env.QueryMedia(ctx, remoteID, opts)
}

// Registered returns the number of registered connectors.
func (l *Local) Registered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.registry)
}

var _ SDK = (*Local)(nil)
