// Package document exposes the few parts of a template document the package
// workflows edit. Everything else round-trips verbatim, in its original key order.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/studiopack/internal/models"
)

type object = orderedmap.OrderedMap[string, json.RawMessage]

func newObject() *object {
	return orderedmap.New[string, json.RawMessage]()
}

func decodeObject(raw json.RawMessage) (*object, error) {
	obj := newObject()
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(raw json.RawMessage) ([]*object, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]*object, len(items))
	for i, item := range items {
		obj, err := decodeObject(item)
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Document is a parsed template document.
type Document struct {
	root *object
}

// Parse decodes a document JSON object.
func Parse(data []byte) (*Document, error) {
	root, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.root.MarshalJSON()
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	return d.MarshalJSON()
}

// Clone returns a deep copy.
func (d *Document) Clone() (*Document, error) {
	data, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// BytesWithout serializes the document with the top-level key omitted.
func (d *Document) BytesWithout(key string) ([]byte, error) {
	c, err := d.Clone()
	if err != nil {
		return nil, err
	}
	c.root.Delete(key)
	return c.Bytes()
}

// ID returns the top-level "id" field, or "" when absent.
func (d *Document) ID() string {
	raw, ok := d.root.Get("id")
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// Connectors returns a typed view of the connectors array.
func (d *Document) Connectors() ([]models.DocumentConnector, error) {
	raw, ok := d.root.Get("connectors")
	if !ok || isNull(raw) {
		return nil, nil
	}
	var out []models.DocumentConnector
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("document: connectors: %w", err)
	}
	return out, nil
}

// ConnectorsNeedingReplacement returns the grafx connectors that carry a remote id.
func (d *Document) ConnectorsNeedingReplacement() ([]models.DocumentConnector, error) {
	all, err := d.Connectors()
	if err != nil {
		return nil, err
	}
	var out []models.DocumentConnector
	for _, c := range all {
		if c.NeedsReplacement() {
			out = append(out, c)
		}
	}
	return out, nil
}

// FontFamilies returns the fontFamilies array.
func (d *Document) FontFamilies() ([]models.DocumentFontFamily, error) {
	raw, ok := d.root.Get("fontFamilies")
	if !ok || isNull(raw) {
		return nil, nil
	}
	var out []models.DocumentFontFamily
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("document: font families: %w", err)
	}
	return out, nil
}

// editConnectors decodes the connectors array, lets fn edit or filter it and
// writes it back. fn returns the connectors to keep.
func (d *Document) editConnectors(fn func([]*object) ([]*object, error)) error {
	raw, ok := d.root.Get("connectors")
	if !ok || isNull(raw) {
		return nil
	}
	items, err := decodeArray(raw)
	if err != nil {
		return fmt.Errorf("document: connectors: %w", err)
	}
	kept, err := fn(items)
	if err != nil {
		return err
	}
	if kept == nil {
		kept = []*object{}
	}
	out, err := encode(kept)
	if err != nil {
		return err
	}
	d.root.Set("connectors", out)
	return nil
}

// editLayouts decodes the layouts array, lets fn edit each layout in place
// and writes it back.
func (d *Document) editLayouts(fn func(i int, layout *object) error) error {
	raw, ok := d.root.Get("layouts")
	if !ok || isNull(raw) {
		return nil
	}
	layouts, err := decodeArray(raw)
	if err != nil {
		return fmt.Errorf("document: layouts: %w", err)
	}
	for i, l := range layouts {
		if err := fn(i, l); err != nil {
			return err
		}
	}
	out, err := encode(layouts)
	if err != nil {
		return err
	}
	d.root.Set("layouts", out)
	return nil
}

func connectorSource(c *object) (models.ConnectorSource, error) {
	var src models.ConnectorSource
	raw, ok := c.Get("source")
	if !ok || isNull(raw) {
		return src, nil
	}
	if err := json.Unmarshal(raw, &src); err != nil {
		return src, fmt.Errorf("document: connector source: %w", err)
	}
	return src, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
