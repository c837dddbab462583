package models

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/samber/lo"
)

// Connector is a connector as listed by the environment API.
type Connector struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// ConnectorTypeMedia is the connector type browsed for smart crops.
const ConnectorTypeMedia = "media"

// SourceGraFx marks a document connector backed by an environment connector.
const SourceGraFx = "grafx"

// ConnectorSource is the source block of a document connector.
type ConnectorSource struct {
	Source string  `json:"source"`
	ID     *string `json:"id"`
}

// DocumentConnector is an entry of a document's connectors array.
type DocumentConnector struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Source ConnectorSource `json:"source"`
}

// NeedsReplacement reports whether the connector references an
// environment-specific remote id.
func (c DocumentConnector) NeedsReplacement() bool {
	return c.Source.Source == SourceGraFx && c.Source.ID != nil && *c.Source.ID != ""
}

// SourceID returns the remote id, or "" when unset.
func (c DocumentConnector) SourceID() string {
	if c.Source.ID == nil {
		return ""
	}
	return *c.Source.ID
}

// ConnectorSelection is the set of folders picked in a media connector.
type ConnectorSelection struct {
	SelectedFolders []string `json:"selectedFolders"`
	ConnectorID     string   `json:"connectorId"`
	ConnectorName   string   `json:"connectorName"`
}

// NormalizeFolderPath returns p with a leading slash, no duplicate or
// trailing slashes; the root is "/".
func NormalizeFolderPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Normalized returns a copy with normalized, unique folder paths in their
// original order.
func (s ConnectorSelection) Normalized() ConnectorSelection {
	out := s
	out.SelectedFolders = lo.Uniq(lo.Map(s.SelectedFolders, func(p string, _ int) string {
		return NormalizeFolderPath(p)
	}))
	return out
}

// Toggle adds the folder when absent and removes it when present.
func (s ConnectorSelection) Toggle(folder string) ConnectorSelection {
	folder = NormalizeFolderPath(folder)
	out := s.Normalized()
	if lo.Contains(out.SelectedFolders, folder) {
		out.SelectedFolders = lo.Without(out.SelectedFolders, folder)
		return out
	}
	out.SelectedFolders = append(out.SelectedFolders, folder)
	return out
}

// MediaItemType is "folder" or "file".
type MediaItemType string

const (
	MediaItemFolder MediaItemType = "folder"
	MediaItemFile   MediaItemType = "file"
)

// UnmarshalJSON accepts the string form and the legacy numeric form (1 folder, 0 file).
func (t *MediaItemType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch MediaItemType(s) {
		case MediaItemFolder, MediaItemFile:
			*t = MediaItemType(s)
			return nil
		}
		return fmt.Errorf("unknown media item type %q", s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("media item type: %w", err)
	}
	switch n {
	case 1:
		*t = MediaItemFolder
	case 0:
		*t = MediaItemFile
	default:
		return fmt.Errorf("unknown media item type %d", n)
	}
	return nil
}

// MediaItem is a folder or file returned by a connector query.
type MediaItem struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	RelativePath string         `json:"relativePath,omitempty"`
	Type         MediaItemType  `json:"type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// QueryPage is one page of a connector query.
type QueryPage[T any] struct {
	PageSize      int    `json:"pageSize"`
	NextPageToken string `json:"nextPageToken,omitempty"`
	Data          []T    `json:"data"`
}

// QueryPageSize is the fixed page size of connector queries.
const QueryPageSize = 15

// QueryOptions are the options of a connector query.
type QueryOptions struct {
	Collection string   `json:"collection"`
	PageToken  string   `json:"pageToken,omitempty"`
	PageSize   int      `json:"pageSize"`
	Filter     []string `json:"filter"`
}

// DocumentFontStyle is a font style used by the open document.
type DocumentFontStyle struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FontFamilyID string `json:"fontFamilyId"`
	FontStyleID  string `json:"fontStyleId"`
}

// DocumentFontFamily is a font family used by the open document.
type DocumentFontFamily struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	FontFamilyID string              `json:"fontFamilyId"`
	FontStyles   []DocumentFontStyle `json:"fontStyles"`
}
