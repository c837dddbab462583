package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/studiopack/internal/models"
)

const toolbarKey = "toolbar"

// ToolbarData reads layouts[0].privateData.toolbar. A document without the
// blob yields the zero value.
func (d *Document) ToolbarData() (models.ToolbarData, error) {
	var td models.ToolbarData
	pd, err := d.firstLayoutPrivateData()
	if err != nil || pd == nil {
		return td, err
	}
	raw, ok := pd.Get(toolbarKey)
	if !ok || isNull(raw) {
		return td, nil
	}
	if err := json.Unmarshal(raw, &td); err != nil {
		return td, fmt.Errorf("document: toolbar data: %w", err)
	}
	return td, nil
}

func (d *Document) firstLayoutPrivateData() (*object, error) {
	raw, ok := d.root.Get("layouts")
	if !ok || isNull(raw) {
		return nil, nil
	}
	layouts, err := decodeArray(raw)
	if err != nil {
		return nil, fmt.Errorf("document: layouts: %w", err)
	}
	if len(layouts) == 0 {
		return nil, nil
	}
	pdRaw, ok := layouts[0].Get("privateData")
	if !ok || isNull(pdRaw) {
		return nil, nil
	}
	pd, err := decodeObject(pdRaw)
	if err != nil {
		return nil, fmt.Errorf("document: private data: %w", err)
	}
	return pd, nil
}

// RemoveToolbarData deletes layouts[0].privateData.toolbar when present. Other
// privateData keys are untouched. It reports whether anything was removed.
func (d *Document) RemoveToolbarData() (bool, error) {
	removed := false
	err := d.editLayouts(func(i int, layout *object) error {
		if i != 0 {
			return nil
		}
		pdRaw, ok := layout.Get("privateData")
		if !ok || isNull(pdRaw) {
			return nil
		}
		pd, err := decodeObject(pdRaw)
		if err != nil {
			return fmt.Errorf("document: private data: %w", err)
		}
		if _, present := pd.Delete(toolbarKey); !present {
			return nil
		}
		out, err := encode(pd)
		if err != nil {
			return err
		}
		layout.Set("privateData", out)
		removed = true
		return nil
	})
	return removed, err
}

// UnusedConnectorsReport describes the outcome of RemoveUnusedConnectors.
type UnusedConnectorsReport struct {
	Removed []models.DocumentConnector
	// Disputed lists connector ids on which the text search and the
	// structural reference walk disagree.
	Disputed []string
	// Ambiguous lists id pairs where one id is a substring of the other.
	Ambiguous [][2]string
}

// RemoveUnusedConnectors drops grafx connectors whose id does not occur
// anywhere else in the document. Usage is decided by plain substring search
// over the document serialized without its connectors array, which can be
// fooled when one id is a substring of another token; the report carries
// the cases where an exact structural walk disagrees.
func (d *Document) RemoveUnusedConnectors() (UnusedConnectorsReport, error) {
	var report UnusedConnectorsReport

	rest, err := d.BytesWithout("connectors")
	if err != nil {
		return report, err
	}
	all, err := d.Connectors()
	if err != nil {
		return report, err
	}
	var ids []string
	for _, c := range all {
		if c.Source.Source == models.SourceGraFx {
			ids = append(ids, connectorIDs(c)...)
		}
	}
	structural, err := References(rest, ids)
	if err != nil {
		return report, err
	}
	report.Ambiguous = AmbiguousIDs(ids)

	used := func(c models.DocumentConnector) bool {
		textual, exact := false, false
		for _, id := range connectorIDs(c) {
			if bytes.Contains(rest, []byte(id)) {
				textual = true
			}
			if structural[id] > 0 {
				exact = true
			}
		}
		if textual != exact {
			report.Disputed = append(report.Disputed, c.ID)
		}
		return textual
	}

	err = d.editConnectors(func(items []*object) ([]*object, error) {
		kept := make([]*object, 0, len(items))
		for i, item := range items {
			c := all[i]
			if c.Source.Source != models.SourceGraFx || used(c) {
				kept = append(kept, item)
				continue
			}
			report.Removed = append(report.Removed, c)
		}
		return kept, nil
	})
	return report, err
}

// connectorIDs returns the local id and, when different, the remote id.
func connectorIDs(c models.DocumentConnector) []string {
	var out []string
	if c.ID != "" {
		out = append(out, c.ID)
	}
	if sid := c.SourceID(); sid != "" && sid != c.ID {
		out = append(out, sid)
	}
	return out
}

// References counts, for each id, how many object keys and string values of
// the JSON data equal it exactly.
func References(data []byte, ids []string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
		counts[id] = 0
	}
	var tree any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("document: references: %w", err)
	}
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				if _, ok := want[k]; ok {
					counts[k]++
				}
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		case string:
			if _, ok := want[t]; ok {
				counts[t]++
			}
		}
	}
	walk(tree)
	return counts, nil
}

// AmbiguousIDs returns the pairs of distinct ids where the first is a
// substring of the second.
func AmbiguousIDs(ids []string) [][2]string {
	var out [][2]string
	for _, a := range ids {
		for _, b := range ids {
			if a != "" && a != b && strings.Contains(b, a) {
				out = append(out, [2]string{a, b})
			}
		}
	}
	return out
}
