package models

// DownloadSettings control which artifacts a package download produces and
// which transforms are applied to the document snapshot.
type DownloadSettings struct {
	IncludeFonts             bool `json:"includeFonts" yaml:"include_fonts"`
	IncludeSmartCrops        bool `json:"includeSmartCrops" yaml:"include_smart_crops"`
	UseOriginalFontFileNames bool `json:"useOriginalFontFileNames" yaml:"use_original_font_file_names"`
	RemoveToolbarData        bool `json:"removeToolbarData" yaml:"remove_toolbar_data"`
	// RemoveUnusedConnectors is experimental: usage is detected by text search.
	RemoveUnusedConnectors       bool                `json:"removeUnusedConnectors" yaml:"remove_unused_connectors"`
	SmartCropsConnectorSelection *ConnectorSelection `json:"smartCropsConnectorSelection,omitempty" yaml:"-"`
}

// DownloadOverrides are explicit user choices; nil fields keep the default.
type DownloadOverrides struct {
	IncludeFonts                 *bool               `json:"includeFonts,omitempty"`
	IncludeSmartCrops            *bool               `json:"includeSmartCrops,omitempty"`
	UseOriginalFontFileNames     *bool               `json:"useOriginalFontFileNames,omitempty"`
	RemoveToolbarData            *bool               `json:"removeToolbarData,omitempty"`
	RemoveUnusedConnectors       *bool               `json:"removeUnusedConnectors,omitempty"`
	SmartCropsConnectorSelection *ConnectorSelection `json:"smartCropsConnectorSelection,omitempty"`
}

// Merge applies the overrides on top of s.
func (s DownloadSettings) Merge(o DownloadOverrides) DownloadSettings {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	out := s
	set(&out.IncludeFonts, o.IncludeFonts)
	set(&out.IncludeSmartCrops, o.IncludeSmartCrops)
	set(&out.UseOriginalFontFileNames, o.UseOriginalFontFileNames)
	set(&out.RemoveToolbarData, o.RemoveToolbarData)
	set(&out.RemoveUnusedConnectors, o.RemoveUnusedConnectors)
	if o.SmartCropsConnectorSelection != nil {
		sel := o.SmartCropsConnectorSelection.Normalized()
		out.SmartCropsConnectorSelection = &sel
	}
	return out
}

// HasSmartCropsSelection reports whether smart crops can be collected.
func (s DownloadSettings) HasSmartCropsSelection() bool {
	sel := s.SmartCropsConnectorSelection
	return sel != nil && sel.ConnectorID != "" && len(sel.SelectedFolders) > 0
}

// ToolbarData is the settings blob the toolbar stores inside a document at
// layouts[0].privateData.toolbar.
type ToolbarData struct {
	DefaultDownloadSettings *DownloadSettings `json:"defaultDownloadSettings,omitempty"`
}
