// Package manifest validates untrusted studio package directories.
package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/models"
)

// Package is a validated studio package: the parsed manifest and the file
// set it was validated against.
type Package struct {
	Manifest models.StudioPackage
	root     string
	files    map[string][]byte
}

// File returns the content of a file referenced by the manifest.
func (p *Package) File(filePath string) ([]byte, bool) {
	data, ok := p.files[p.resolve(filePath)]
	return data, ok
}

// Names returns every file name of the package, sorted.
func (p *Package) Names() []string {
	out := make([]string, 0, len(p.files))
	for n := range p.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (p *Package) resolve(filePath string) string {
	return cleanName(path.Join(p.root, filePath))
}

// Validate checks files against the package manifest schema. It runs to
// completion before any network call; the first missing or malformed
// artifact aborts validation.
func Validate(files []models.NamedBlob) (*Package, error) {
	set := make(map[string][]byte, len(files))
	for _, f := range files {
		set[cleanName(f.Name)] = f.Data
	}

	manifestName, ok := findManifest(set)
	if !ok {
		return nil, apperr.ErrNoChiliPackage
	}

	var sp models.StudioPackage
	if err := json.Unmarshal(set[manifestName], &sp); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidChiliPackage, err)
	}
	if err := sp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidChiliPackage, err)
	}

	pkg := &Package{
		Manifest: sp,
		root:     path.Dir(manifestName),
		files:    set,
	}

	for _, doc := range sp.Documents {
		data, ok := pkg.File(doc.FilePath)
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperr.ErrMissingDocumentFile, doc.FilePath)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidDocumentJSON, doc.FilePath)
		}
		for _, font := range doc.Fonts {
			if _, ok := pkg.File(font.FilePath); !ok {
				return nil, fmt.Errorf("%w: %s", apperr.ErrMissingFontFile, font.FilePath)
			}
		}
		if doc.SmartCrops != nil {
			if _, ok := pkg.File(doc.SmartCrops.FilePath); !ok {
				return nil, fmt.Errorf("%w: %s", apperr.ErrMissingSmartCropsFile, doc.SmartCrops.FilePath)
			}
		}
	}

	return pkg, nil
}

// findManifest returns the shallowest file named chili-package.json. A
// directory picker reports paths prefixed with the picked folder, so the
// manifest is not required to sit at the very top.
func findManifest(set map[string][]byte) (string, bool) {
	var best string
	found := false
	for name := range set {
		if path.Base(name) != models.PackageFileName {
			continue
		}
		if !found || depth(name) < depth(best) || (depth(name) == depth(best) && name < best) {
			best, found = name, true
		}
	}
	return best, found
}

func depth(name string) int {
	return strings.Count(name, "/")
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}
