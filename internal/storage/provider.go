// Package storage defines the package directory file-system abstraction.
package storage

import "github.com/starford/studiopack/internal/models"

// Provider is the interface for package directory file operations. Paths
// are relative to the provider root and use forward slashes.
type Provider interface {
	// Abs resolves a relative path to an absolute one under the root.
	Abs(path string) (string, error)
	// List returns metadata for every regular file under dir.
	List(dir string) ([]models.FileInfo, error)
	// ReadAll loads every regular file under dir, names relative to dir.
	ReadAll(dir string) ([]models.NamedBlob, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
}
