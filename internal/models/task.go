package models

// TaskType classifies a unit of work shown in the task list.
type TaskType string

const (
	TaskTypeDownload          TaskType = "download"
	TaskTypeQueryFolder       TaskType = "query_folder"
	TaskTypeGetVision         TaskType = "get_vision"
	TaskTypeSmartCrops        TaskType = "smart_crops"
	TaskTypePackageProcessing TaskType = "package_processing"
	TaskTypeFontUpload        TaskType = "font_upload"
	TaskTypeSmartCropUpload   TaskType = "smart_crop_upload"
	TaskTypeDocumentLoad      TaskType = "document_load"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusComplete   TaskStatus = "complete"
	TaskStatusError      TaskStatus = "error"
	TaskStatusInfo       TaskStatus = "info"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusError || s == TaskStatusInfo
}

// Task is one named unit of work. Derived tasks are summaries whose fields
// are recomputed from other tasks; Hidden tasks only feed a summary.
type Task struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Type    TaskType   `json:"type"`
	Status  TaskStatus `json:"status"`
	Error   string     `json:"error,omitempty"`
	Tooltip string     `json:"tooltip,omitempty"`
	Derived bool       `json:"derived,omitempty"`
	Hidden  bool       `json:"hidden,omitempty"`
}

// DownloadKind identifies the artifact a DownloadFile produces.
type DownloadKind string

const (
	DownloadKindDocument   DownloadKind = "document-json"
	DownloadKindFont       DownloadKind = "font"
	DownloadKindSmartCrops DownloadKind = "smart-crops"
	DownloadKindPackage    DownloadKind = "studio-package"
)

// DownloadStatus is the relay-driven state of a DownloadFile.
type DownloadStatus string

const (
	DownloadStatusPending     DownloadStatus = "pending"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusComplete    DownloadStatus = "complete"
	DownloadStatusError       DownloadStatus = "error"
)

// DownloadFile is one artifact of a package download.
type DownloadFile struct {
	ID       string         `json:"id"`
	Kind     DownloadKind   `json:"kind"`
	Name     string         `json:"name"`
	FileName string         `json:"fileName,omitempty"`
	Status   DownloadStatus `json:"status"`
	Error    string         `json:"error,omitempty"`
	// FontStyleID is the remote style id for font artifacts.
	FontStyleID string    `json:"fontStyleId,omitempty"`
	Font        *FontData `json:"font,omitempty"`
}
