// Package smartcrop models smart-crops.json and the vision metadata it carries.
package smartcrop

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/starford/studiopack/internal/apperr"
)

// Metadata is the vision metadata of one asset. Only subjectArea is
// interpreted; every other key passes through untouched.
type Metadata map[string]json.RawMessage

const subjectAreaKey = "subjectArea"

// SubjectArea is a rectangle in normalized [0,1] image coordinates.
type SubjectArea struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Crop is the vision metadata recorded for one asset.
type Crop struct {
	AssetID  string   `json:"assetId"`
	Metadata Metadata `json:"metadata"`
}

// File is the content of smart-crops.json.
type File struct {
	ConnectorID   string `json:"connectorId"`
	ConnectorName string `json:"connectorName"`
	Crops         []Crop `json:"crops"`
}

// Parse decodes smart-crops.json.
func Parse(data []byte) (File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w: %v", apperr.ErrInvalidSmartCropsJSON, err)
	}
	return f, nil
}

// Clamp keeps the rectangle inside [0,1]x[0,1]. The origin is clamped first,
// then the size is cut to what remains.
func Clamp(a SubjectArea) SubjectArea {
	a.X = math.Min(1, math.Max(0, a.X))
	a.Y = math.Min(1, math.Max(0, a.Y))
	a.Width = math.Max(0, math.Min(a.Width, 1-a.X))
	a.Height = math.Max(0, math.Min(a.Height, 1-a.Y))
	return a
}

// SubjectArea returns the subject area, if the metadata has one.
func (m Metadata) SubjectArea() (SubjectArea, bool, error) {
	raw, ok := m[subjectAreaKey]
	if !ok || string(raw) == "null" {
		return SubjectArea{}, false, nil
	}
	var a SubjectArea
	if err := json.Unmarshal(raw, &a); err != nil {
		return SubjectArea{}, false, fmt.Errorf("smartcrop: subject area: %w", err)
	}
	return a, true, nil
}

// Clamped returns a copy of m with its subject area clamped. Extra keys of
// the subject area object are dropped.
func (m Metadata) Clamped() (Metadata, error) {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	a, ok, err := m.SubjectArea()
	if err != nil || !ok {
		return out, err
	}
	raw, err := json.Marshal(Clamp(a))
	if err != nil {
		return nil, err
	}
	out[subjectAreaKey] = raw
	return out, nil
}

// VisionStore reads and writes the vision metadata of connector assets.
type VisionStore interface {
	GetVision(ctx context.Context, connectorID, assetID string) (Metadata, error)
	SetVision(ctx context.Context, connectorID, assetID string, meta Metadata) error
}

// Asset addresses one asset of a connector.
type Asset struct {
	ConnectorID string
	AssetID     string
}

// CopyVision copies the vision metadata of src onto dst, clamping the subject area.
func CopyVision(ctx context.Context, store VisionStore, src, dst Asset) (Metadata, error) {
	meta, err := store.GetVision(ctx, src.ConnectorID, src.AssetID)
	if err != nil {
		return nil, fmt.Errorf("smartcrop: read vision of %s: %w", src.AssetID, err)
	}
	clamped, err := meta.Clamped()
	if err != nil {
		return nil, err
	}
	if err := store.SetVision(ctx, dst.ConnectorID, dst.AssetID, clamped); err != nil {
		return nil, fmt.Errorf("smartcrop: write vision of %s: %w", dst.AssetID, err)
	}
	return clamped, nil
}
