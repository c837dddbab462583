package api

import (
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/upload"
)

// DownloadRequest is the request body of POST /api/downloads.
type DownloadRequest = packservice.DownloadRequest

// DownloadResponse lists the artifacts of a finished download.
type DownloadResponse struct {
	Folder string                `json:"folder" example:"Flyer" validate:"required"`
	Files  []models.DownloadFile `json:"files" validate:"required"`
}

// BeginUploadRequest opens an upload session from a package directory on
// the server.
type BeginUploadRequest struct {
	Dir string `json:"dir" example:"./downloads/Flyer" validate:"required"`
}

// SelectConnectorRequest answers the smart crops connector pause.
type SelectConnectorRequest struct {
	ConnectorID string `json:"connectorId" example:"c-media" validate:"required"`
}

// ReplacementsRequest answers the connector replacement pause.
type ReplacementsRequest struct {
	Replacements map[string]string `json:"replacements" validate:"required"`
}

// SessionResponse is an upload session as seen by clients.
type SessionResponse = upload.Session

// TasksResponse wraps the visible tasks of the current run.
type TasksResponse struct {
	Tasks []models.Task `json:"tasks" validate:"required"`
	Done  int           `json:"done" example:"3"`
	Total int           `json:"total" example:"5"`
}

// ConnectorsResponse wraps the enabled media connectors.
type ConnectorsResponse struct {
	Connectors []models.Connector `json:"connectors" validate:"required"`
}

// ItemsResponse wraps the items of one connector folder.
type ItemsResponse struct {
	Path  string             `json:"path" example:"/photos"`
	Items []models.MediaItem `json:"items" validate:"required"`
}

// RunListResponse wraps paginated run history.
type RunListResponse struct {
	Runs  []models.Run `json:"runs" validate:"required"`
	Total int          `json:"total" example:"42" validate:"required"`
}

// PackageFilesResponse lists the files of a downloaded package.
type PackageFilesResponse struct {
	Folder string            `json:"folder" example:"Flyer"`
	Files  []models.FileInfo `json:"files" validate:"required"`
}
