package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/models"
)

func validManifest() models.StudioPackage {
	name := "Flyer"
	return models.StudioPackage{
		EngineVersion: "1.12.0",
		Source:        "https://env.example/grafx/api/v1/environment/env",
		Documents: []models.DocumentEntry{{
			ID:         "doc-1",
			Name:       &name,
			FilePath:   "doc-1.json",
			SmartCrops: &models.FileRef{FilePath: "smart-crops.json"},
			Fonts: []models.FontEntry{{
				FilePath: "Arial-Bold.ttf",
				Details: models.FontData{
					ID: "style-1", Name: "Bold", FamilyID: "fam-1", FamilyName: "Arial",
					DateCreated: "2024-01-01T00:00:00Z", Extension: "ttf", FileName: "Arial-Bold.ttf", FileSize: 1234,
				},
			}},
		}},
	}
}

func blobs(t *testing.T, sp models.StudioPackage, skip ...string) []models.NamedBlob {
	t.Helper()
	raw, err := json.Marshal(sp)
	require.NoError(t, err)
	all := []models.NamedBlob{
		{Name: models.PackageFileName, Data: raw},
		{Name: "doc-1.json", Data: []byte(`{"id":"doc-1","connectors":[]}`)},
		{Name: "Arial-Bold.ttf", Data: []byte("font-bytes")},
		{Name: "smart-crops.json", Data: []byte(`{"connectorId":"c","connectorName":"Media","crops":[]}`)},
	}
	var out []models.NamedBlob
	for _, b := range all {
		keep := true
		for _, s := range skip {
			if b.Name == s {
				keep = false
			}
		}
		if keep {
			out = append(out, b)
		}
	}
	return out
}

func TestValidate_OK(t *testing.T) {
	sp := validManifest()
	pkg, err := Validate(blobs(t, sp))
	require.NoError(t, err)
	assert.Equal(t, sp, pkg.Manifest)

	data, ok := pkg.File("Arial-Bold.ttf")
	require.True(t, ok)
	assert.Equal(t, "font-bytes", string(data))
}

func TestValidate_NestedUnderPickedFolder(t *testing.T) {
	var files []models.NamedBlob
	for _, b := range blobs(t, validManifest()) {
		files = append(files, models.NamedBlob{Name: "export/" + b.Name, Data: b.Data})
	}
	pkg, err := Validate(files)
	require.NoError(t, err)
	_, ok := pkg.File("doc-1.json")
	assert.True(t, ok)
}

func TestValidate_NoManifest(t *testing.T) {
	_, err := Validate(blobs(t, validManifest(), models.PackageFileName))
	assert.ErrorIs(t, err, apperr.ErrNoChiliPackage)
}

func TestValidate_InvalidJSON(t *testing.T) {
	_, err := Validate([]models.NamedBlob{{Name: models.PackageFileName, Data: []byte("{nope")}})
	assert.ErrorIs(t, err, apperr.ErrInvalidChiliPackage)
}

func TestValidate_SchemaViolations(t *testing.T) {
	cases := map[string]func(*models.StudioPackage){
		"missing engine version": func(sp *models.StudioPackage) { sp.EngineVersion = "" },
		"missing documents":      func(sp *models.StudioPackage) { sp.Documents = nil },
		"missing file path":      func(sp *models.StudioPackage) { sp.Documents[0].FilePath = "" },
		"missing fonts":          func(sp *models.StudioPackage) { sp.Documents[0].Fonts = nil },
		"missing family name":    func(sp *models.StudioPackage) { sp.Documents[0].Fonts[0].Details.FamilyName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sp := validManifest()
			mutate(&sp)
			_, err := Validate(blobs(t, sp))
			assert.ErrorIs(t, err, apperr.ErrInvalidChiliPackage)
		})
	}
}

func TestValidate_NullNameAllowed(t *testing.T) {
	sp := validManifest()
	sp.Documents[0].Name = nil
	sp.Documents[0].SmartCrops = nil
	pkg, err := Validate(blobs(t, sp))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", pkg.Manifest.Documents[0].DisplayName())
}

func TestValidate_MissingNameKey(t *testing.T) {
	raw := []byte(`{"engineVersion":"1.12.0","source":"https://env.example","documents":[
		{"id":"doc-1","filePath":"doc-1.json","fonts":[]}
	]}`)
	_, err := Validate([]models.NamedBlob{
		{Name: models.PackageFileName, Data: raw},
		{Name: "doc-1.json", Data: []byte(`{"id":"doc-1"}`)},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidChiliPackage)
	assert.ErrorContains(t, err, "name is required")
}

func TestValidate_MissingArtifacts(t *testing.T) {
	cases := []struct {
		skip string
		want error
	}{
		{"doc-1.json", apperr.ErrMissingDocumentFile},
		{"Arial-Bold.ttf", apperr.ErrMissingFontFile},
		{"smart-crops.json", apperr.ErrMissingSmartCropsFile},
	}
	for _, tc := range cases {
		t.Run(tc.skip, func(t *testing.T) {
			_, err := Validate(blobs(t, validManifest(), tc.skip))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Contains(t, err.Error(), tc.skip)
		})
	}
}

func TestValidate_InvalidDocumentJSON(t *testing.T) {
	files := blobs(t, validManifest(), "doc-1.json")
	files = append(files, models.NamedBlob{Name: "doc-1.json", Data: []byte("not json")})
	_, err := Validate(files)
	assert.ErrorIs(t, err, apperr.ErrInvalidDocumentJSON)
}
