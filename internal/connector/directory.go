// Package connector browses media connectors through a registered session connector.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/studiopack/internal/models"
)

// Session is the part of the editor session used to browse connectors.
type Session interface {
	RegisterConnector(ctx context.Context, remoteID string) (string, error)
	UnregisterConnector(ctx context.Context, localID string) error
	QueryConnector(ctx context.Context, localID string, opts models.QueryOptions) (models.QueryPage[models.MediaItem], error)
}

// Lister lists the media connectors of the environment.
type Lister interface {
	MediaConnectors(ctx context.Context) ([]models.Connector, error)
}

// Directory lists media connectors and walks their folders.
type Directory struct {
	session Session
	lister  Lister
	log     *slog.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(session Session, lister Lister, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{session: session, lister: lister, log: log}
}

// ListMediaConnectors returns the enabled media connectors.
func (d *Directory) ListMediaConnectors(ctx context.Context) ([]models.Connector, error) {
	return d.lister.MediaConnectors(ctx)
}

// WithConnector registers remoteID, runs fn with the local id and always
// unregisters it afterwards, also when fn fails or ctx is cancelled.
func (d *Directory) WithConnector(ctx context.Context, remoteID string, fn func(ctx context.Context, localID string) error) (err error) {
	localID, err := d.session.RegisterConnector(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("connector: register %s: %w", remoteID, err)
	}
	d.log.Debug("connector registered", slog.String("remote_id", remoteID), slog.String("local_id", localID))
	defer func() {
		uerr := d.session.UnregisterConnector(context.WithoutCancel(ctx), localID)
		if uerr != nil {
			d.log.Warn("connector unregister failed", slog.String("local_id", localID), slog.String("error", uerr.Error()))
			err = errors.Join(err, fmt.Errorf("connector: unregister %s: %w", localID, uerr))
		}
	}()
	return fn(ctx, localID)
}

// QueryFolder fetches one page of a folder.
func (d *Directory) QueryFolder(ctx context.Context, localID, folder, pageToken string) (models.QueryPage[models.MediaItem], error) {
	return d.session.QueryConnector(ctx, localID, models.QueryOptions{
		Collection: models.NormalizeFolderPath(folder),
		PageToken:  pageToken,
		PageSize:   models.QueryPageSize,
		Filter:     []string{""},
	})
}

// ListFolder returns every item of a folder, following page tokens until
// the last page.
func (d *Directory) ListFolder(ctx context.Context, localID, folder string) ([]models.MediaItem, error) {
	var items []models.MediaItem
	seen := make(map[string]bool)
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := d.QueryFolder(ctx, localID, folder, token)
		if err != nil {
			return nil, fmt.Errorf("connector: query %s: %w", folder, err)
		}
		items = append(items, page.Data...)
		if page.NextPageToken == "" {
			return items, nil
		}
		if seen[page.NextPageToken] {
			return nil, fmt.Errorf("connector: query %s: page token repeated", folder)
		}
		seen[page.NextPageToken] = true
		token = page.NextPageToken
	}
}

// Browse lists a folder of a remote connector in its own registration scope.
func (d *Directory) Browse(ctx context.Context, remoteID, folder string) ([]models.MediaItem, error) {
	var items []models.MediaItem
	err := d.WithConnector(ctx, remoteID, func(ctx context.Context, localID string) error {
		var err error
		items, err = d.ListFolder(ctx, localID, folder)
		return err
	})
	return items, err
}

// FileVisitor is called for each file of a selected folder. Returning an
// error stops the walk.
type FileVisitor func(folder string, item models.MediaItem) error

// WalkFiles visits the files directly inside each folder; subfolders are
// not descended into. A folder that cannot be listed is reported to onFolderErr
// and skipped; a nil onFolderErr stops the walk instead.
func (d *Directory) WalkFiles(ctx context.Context, localID string, folders []string, visit FileVisitor, onFolderErr func(folder string, err error)) error {
	for _, folder := range folders {
		items, err := d.ListFolder(ctx, localID, folder)
		if err != nil {
			if onFolderErr == nil || ctx.Err() != nil {
				return err
			}
			onFolderErr(folder, err)
			continue
		}
		for _, item := range items {
			if item.Type != models.MediaItemFile {
				continue
			}
			if err := visit(models.NormalizeFolderPath(folder), item); err != nil {
				return err
			}
		}
	}
	return nil
}
