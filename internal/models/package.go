// Package models defines the domain types for studio packages.
package models

import (
	"encoding/json"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PackageFileName is the manifest file every studio package carries at its root.
const PackageFileName = "chili-package.json"

// SmartCropsFileName is the file name used for exported smart crop metadata.
const SmartCropsFileName = "smart-crops.json"

// StudioPackage is the chili-package.json manifest.
type StudioPackage struct {
	EngineVersion string          `json:"engineVersion"`
	Source        string          `json:"source"`
	Documents     []DocumentEntry `json:"documents"`
}

// Validate checks the manifest schema.
func (p StudioPackage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.EngineVersion, validation.Required),
		validation.Field(&p.Source, validation.Required),
		validation.Field(&p.Documents, validation.NotNil),
	)
}

// DocumentEntry describes one document of a package.
type DocumentEntry struct {
	ID         string      `json:"id"`
	Name       *string     `json:"name"`
	FilePath   string      `json:"filePath"`
	SmartCrops *FileRef    `json:"smartCrops,omitempty"`
	Fonts      []FontEntry `json:"fonts"`
}

// ErrMissingName is returned when a document entry has no name key at all.
var ErrMissingName = errors.New("document entry: name is required, null allowed")

// UnmarshalJSON requires the name key to be present, even when null.
func (d *DocumentEntry) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if _, ok := keys["name"]; !ok {
		return ErrMissingName
	}
	type plain DocumentEntry
	return json.Unmarshal(data, (*plain)(d))
}

// Validate checks the document entry schema. Name may be null but the key
// is required; see UnmarshalJSON.
func (d DocumentEntry) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required),
		validation.Field(&d.FilePath, validation.Required),
		validation.Field(&d.SmartCrops),
		validation.Field(&d.Fonts, validation.NotNil),
	)
}

// DisplayName returns the document name or its id when the name is null.
func (d DocumentEntry) DisplayName() string {
	if d.Name != nil && *d.Name != "" {
		return *d.Name
	}
	return d.ID
}

// FileRef points at a file inside the package.
type FileRef struct {
	FilePath string `json:"filePath"`
}

// Validate implements validation.Validatable.
func (f FileRef) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.FilePath, validation.Required),
	)
}

// FontEntry is a font file of a document together with its remote style details.
type FontEntry struct {
	FilePath string   `json:"filePath"`
	Details  FontData `json:"details"`
}

// Validate implements validation.Validatable.
func (f FontEntry) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.FilePath, validation.Required),
		validation.Field(&f.Details),
	)
}

// FontData identifies a remote font style.
type FontData struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FamilyID    string `json:"familyId"`
	FamilyName  string `json:"familyName"`
	DateCreated string `json:"dateCreated"`
	Extension   string `json:"extension"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
}

// Validate implements validation.Validatable.
func (f FontData) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.FamilyID, validation.Required),
		validation.Field(&f.FamilyName, validation.Required),
		validation.Field(&f.DateCreated, validation.Required),
		validation.Field(&f.Extension, validation.Required),
		validation.Field(&f.FileName, validation.Required),
		validation.Field(&f.FileSize, validation.Min(int64(0))),
	)
}

// NamedBlob is one file of an untrusted package directory. Name is the
// slash-separated path relative to the package root.
type NamedBlob struct {
	Name string
	Data []byte
}
