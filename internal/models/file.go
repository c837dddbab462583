package models

import "time"

// FileInfo is a lightweight representation of a package directory file.
type FileInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunKind is the workflow a run executed.
type RunKind string

const (
	RunKindDownload RunKind = "download"
	RunKindUpload   RunKind = "upload"
)

// Run is one download or upload as recorded in the history.
type Run struct {
	ID         string     `json:"id"`
	Kind       RunKind    `json:"kind"`
	Target     string     `json:"target"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Tasks      []Task     `json:"tasks,omitempty"`
}
