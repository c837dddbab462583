// Package upload replays a studio package into the environment: it validates
// the package, pauses for the user's connector choices and then uploads
// fonts, smart crops and the rewritten document.
package upload

import (
	"maps"

	"github.com/samber/lo"

	"github.com/starford/studiopack/internal/document"
	"github.com/starford/studiopack/internal/manifest"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
)

// Step is the point an upload session is paused at.
type Step string

const (
	// StepConnectorSelection waits for the smart crops destination connector.
	StepConnectorSelection Step = "connectorSelection"
	// StepReplaceConnectors waits for a full connector replacement map.
	StepReplaceConnectors Step = "replaceConnectors"
	// StepReady means Execute may run.
	StepReady Step = "ready"
)

// Session is the continuation state of one upload. It is a value: every
// transition returns a new Session and leaves the receiver untouched.
type Session struct {
	ID   string `json:"id"`
	Step Step   `json:"step"`

	Manifest models.StudioPackage `json:"manifest"`
	Entry    models.DocumentEntry `json:"document"`

	// SmartCrops is nil when the package has none.
	SmartCrops *smartcrop.File `json:"smartCrops,omitempty"`
	// SmartCropsConnector is the chosen destination of the smart crops.
	SmartCropsConnector *models.Connector `json:"smartCropsConnector,omitempty"`
	// SuggestedSmartCropsConnector is the id of the connector whose name
	// matches the one recorded in smart-crops.json.
	SuggestedSmartCropsConnector string `json:"suggestedSmartCropsConnector,omitempty"`

	Connectors []models.Connector         `json:"connectors,omitempty"`
	Needing    []models.DocumentConnector `json:"connectorsNeedingReplacement,omitempty"`
	Suggested  map[string]string          `json:"suggestedReplacements,omitempty"`
	Replaced   map[string]string          `json:"replacements,omitempty"`

	pkg       *manifest.Package
	doc       *document.Document
	rewritten *document.Document
}

func (s Session) clone() Session {
	out := s
	out.Connectors = append([]models.Connector(nil), s.Connectors...)
	out.Needing = append([]models.DocumentConnector(nil), s.Needing...)
	out.Suggested = maps.Clone(s.Suggested)
	out.Replaced = maps.Clone(s.Replaced)
	return out
}

// Missing returns the ids of the connectors that m leaves unmapped.
func (s Session) Missing(m map[string]string) []string {
	var out []string
	for _, c := range s.Needing {
		if m[c.SourceID()] == "" {
			out = append(out, c.SourceID())
		}
	}
	return lo.Uniq(out)
}

// SmartCropCount returns the number of crops the package carries.
func (s Session) SmartCropCount() int {
	if s.SmartCrops == nil {
		return 0
	}
	return len(s.SmartCrops.Crops)
}

// suggestByName maps each needing connector to the available connector with
// the same name, when exactly one matches.
func suggestByName(needing []models.DocumentConnector, available []models.Connector) map[string]string {
	out := make(map[string]string)
	for _, c := range needing {
		matches := lo.Filter(available, func(a models.Connector, _ int) bool { return a.Name == c.Name })
		if len(matches) == 1 {
			out[c.SourceID()] = matches[0].ID
		}
	}
	return out
}
