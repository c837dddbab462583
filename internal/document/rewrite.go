package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/models"
)

// Rewrite returns a copy of doc in which every grafx connector whose remote
// id has an entry in replacements points at the replacement id, with the
// matching perAssetCrop keys re-keyed in place. A local id equal to the old
// remote id is renamed along with it. The result is then scanned
// for every id that must not survive; any occurrence fails with
// *apperr.ReplacementIncompleteError listing the offending ids.
func Rewrite(doc *Document, replacements map[string]string) (*Document, error) {
	out, err := doc.Clone()
	if err != nil {
		return nil, err
	}

	needing, err := out.ConnectorsNeedingReplacement()
	if err != nil {
		return nil, err
	}

	replaced := make(map[string]string)
	err = out.editConnectors(func(items []*object) ([]*object, error) {
		for _, c := range items {
			src, err := connectorSource(c)
			if err != nil {
				return nil, err
			}
			if src.Source != models.SourceGraFx || src.ID == nil {
				continue
			}
			newID, ok := replacements[*src.ID]
			if !ok {
				continue
			}
			if err := setSourceID(c, newID); err != nil {
				return nil, err
			}
			if err := renameLocalID(c, *src.ID, newID); err != nil {
				return nil, err
			}
			replaced[*src.ID] = newID
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}

	if err := out.renameCropKeys(replaced); err != nil {
		return nil, err
	}

	if stale, ambiguous := staleIDs(out, needing, replacements); len(stale) > 0 {
		return nil, &apperr.ReplacementIncompleteError{IDs: stale, Ambiguous: ambiguous}
	}
	return out, nil
}

// staleIDs returns the ids that must be gone after a rewrite but still occur
// anywhere in the serialized document: the remote ids of connectors that
// needed replacement plus every old id of the map. The scan is a plain
// substring match. Only for an id that is also a replacement target are its
// exact structural slots (connector id, source id, perAssetCrop key) discounted.
// The ambiguous pairs among the ids involved are returned for the error message.
func staleIDs(doc *Document, needing []models.DocumentConnector, replacements map[string]string) ([]string, [][2]string) {
	targets := make(map[string]struct{}, len(replacements))
	for _, v := range replacements {
		targets[v] = struct{}{}
	}

	var candidates []string
	for _, c := range needing {
		candidates = append(candidates, c.SourceID())
	}
	oldIDs := lo.Keys(replacements)
	sort.Strings(oldIDs)
	candidates = append(candidates, oldIDs...)
	candidates = lo.Filter(lo.Uniq(candidates), func(id string, _ int) bool { return id != "" })

	data, err := doc.Bytes()
	if err != nil {
		return candidates, nil
	}
	slots, err := doc.structuralSlots(targets)
	if err != nil {
		slots = nil
	}

	var stale []string
	for _, id := range candidates {
		n := bytes.Count(data, []byte(id))
		if _, isTarget := targets[id]; isTarget {
			n -= slots[id]
		}
		if n > 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	involved := append(append([]string{}, candidates...), lo.Keys(targets)...)
	sort.Strings(involved)
	ambiguous := lo.Filter(AmbiguousIDs(lo.Uniq(involved)), func(pair [2]string, _ int) bool {
		return lo.Contains(stale, pair[0]) || lo.Contains(stale, pair[1])
	})
	return stale, ambiguous
}

// structuralSlots counts, per id of ids, the places where it appears as a
// whole connector id, connector source id or perAssetCrop key.
func (d *Document) structuralSlots(ids map[string]struct{}) (map[string]int, error) {
	counts := make(map[string]int)
	hit := func(id string) {
		if _, ok := ids[id]; ok {
			counts[id]++
		}
	}

	connectors, err := d.Connectors()
	if err != nil {
		return nil, err
	}
	for _, c := range connectors {
		hit(c.ID)
		if c.Source.ID != nil {
			hit(*c.Source.ID)
		}
	}

	raw, ok := d.root.Get("layouts")
	if !ok || isNull(raw) {
		return counts, nil
	}
	var layouts []struct {
		FrameProperties []struct {
			PerAssetCrop map[string]json.RawMessage `json:"perAssetCrop"`
		} `json:"frameProperties"`
	}
	if err := json.Unmarshal(raw, &layouts); err != nil {
		return nil, fmt.Errorf("document: layouts: %w", err)
	}
	for _, l := range layouts {
		for _, p := range l.FrameProperties {
			for key := range p.PerAssetCrop {
				hit(key)
			}
		}
	}
	return counts, nil
}

// FindIDs returns, in input order, the ids that occur anywhere in data,
// including inside longer strings such as paths and other identifiers.
func FindIDs(data []byte, ids []string) []string {
	return lo.Filter(ids, func(id string, _ int) bool {
		return id != "" && bytes.Contains(data, []byte(id))
	})
}

func setSourceID(c *object, newID string) error {
	raw, _ := c.Get("source")
	src, err := decodeObject(raw)
	if err != nil {
		return fmt.Errorf("document: connector source: %w", err)
	}
	idRaw, err := encode(newID)
	if err != nil {
		return err
	}
	src.Set("id", idRaw)
	out, err := encode(src)
	if err != nil {
		return err
	}
	c.Set("source", out)
	return nil
}

// renameLocalID follows the remote id when the connector's own id mirrors it.
func renameLocalID(c *object, oldID, newID string) error {
	raw, ok := c.Get("id")
	if !ok {
		return nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id != oldID {
		return nil
	}
	out, err := encode(newID)
	if err != nil {
		return err
	}
	c.Set("id", out)
	return nil
}

// renameCropKeys re-keys layouts[].frameProperties[].perAssetCrop entries
// from old to new ids, keeping each entry at its position.
func (d *Document) renameCropKeys(renames map[string]string) error {
	if len(renames) == 0 {
		return nil
	}
	return d.editLayouts(func(_ int, layout *object) error {
		raw, ok := layout.Get("frameProperties")
		if !ok || isNull(raw) {
			return nil
		}
		props, err := decodeArray(raw)
		if err != nil {
			return fmt.Errorf("document: frame properties: %w", err)
		}
		changed := false
		for _, p := range props {
			cropRaw, ok := p.Get("perAssetCrop")
			if !ok || isNull(cropRaw) {
				continue
			}
			crop, err := decodeObject(cropRaw)
			if err != nil {
				return fmt.Errorf("document: per asset crop: %w", err)
			}
			rekeyed, renamed := rekey(crop, renames)
			if !renamed {
				continue
			}
			out, err := encode(rekeyed)
			if err != nil {
				return err
			}
			p.Set("perAssetCrop", out)
			changed = true
		}
		if !changed {
			return nil
		}
		out, err := encode(props)
		if err != nil {
			return err
		}
		layout.Set("frameProperties", out)
		return nil
	})
}

// rekey returns a copy of m with every key found in renames replaced by its
// new id. Entries keep their position and value.
func rekey(m *object, renames map[string]string) (*object, bool) {
	out := newObject()
	renamed := false
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		key := pair.Key
		if newKey, ok := renames[key]; ok && newKey != key {
			key = newKey
			renamed = true
		}
		out.Set(key, pair.Value)
	}
	return out, renamed
}

// MarshalIndent is a convenience for writing documents to disk.
func MarshalIndent(doc *Document) ([]byte, error) {
	data, err := doc.Bytes()
	if err != nil {
		return nil, err
	}
	var v json.RawMessage = data
	return json.MarshalIndent(v, "", "  ")
}
