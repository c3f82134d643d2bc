// Package catalog handles the Singer catalog of the tap, i.e. the list of available
// streams with their schemas and the selection metadata deciding which streams and
// properties to sync.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
	"github.com/zpiroux/tapfacebook/entity"
)

const (
	InclusionAvailable   = "available"
	InclusionAutomatic   = "automatic"
	InclusionUnsupported = "unsupported"

	breadcrumbProperties = "properties"
)

var (
	ErrInvalidCatalog = errors.New("invalid catalog")
	ErrUnknownStream  = errors.New("unknown stream in catalog")
)

type Catalog struct {
	Streams []*Entry `json:"streams"`
}

type Entry struct {
	TapStreamID       string          `json:"tap_stream_id"`
	Stream            string          `json:"stream"`
	KeyProperties     []string        `json:"key_properties"`
	ReplicationKey    string          `json:"replication_key,omitempty"`
	ReplicationMethod string          `json:"replication_method,omitempty"`
	Schema            json.RawMessage `json:"schema"`
	Metadata          []Metadata      `json:"metadata"`
}

// Metadata applies to the stream (empty breadcrumb) or to one of its top-level
// properties (breadcrumb ["properties", name]).
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   MetadataValues `json:"metadata"`
}

type MetadataValues struct {
	Selected                *bool    `json:"selected,omitempty"`
	SelectedByDefault       *bool    `json:"selected-by-default,omitempty"`
	Inclusion               string   `json:"inclusion,omitempty"`
	TableKeyProperties      []string `json:"table-key-properties,omitempty"`
	ValidReplicationKeys    []string `json:"valid-replication-keys,omitempty"`
	ForcedReplicationMethod string   `json:"forced-replication-method,omitempty"`
}

// Discover creates the default catalog for the provided streams, with all streams and
// properties selected.
func Discover(specs []*entity.StreamSpec) *Catalog {
	c := &Catalog{Streams: make([]*Entry, 0, len(specs))}
	for _, spec := range specs {
		c.Streams = append(c.Streams, newEntry(spec))
	}
	return c
}

func newEntry(spec *entity.StreamSpec) *Entry {

	selected := true
	e := &Entry{
		TapStreamID:       spec.Id(),
		Stream:            spec.Name,
		KeyProperties:     spec.PrimaryKeys,
		ReplicationKey:    spec.ReplicationKey,
		ReplicationMethod: spec.ReplicationMethod(),
		Schema:            spec.Schema,
	}

	streamMd := MetadataValues{
		Selected:                &selected,
		SelectedByDefault:       &selected,
		Inclusion:               InclusionAvailable,
		TableKeyProperties:      spec.PrimaryKeys,
		ForcedReplicationMethod: spec.ReplicationMethod(),
	}
	if spec.HasReplicationKey() {
		streamMd.ValidReplicationKeys = []string{spec.ReplicationKey}
	}
	e.Metadata = append(e.Metadata, Metadata{Breadcrumb: []string{}, Metadata: streamMd})

	automatic := make(map[string]bool)
	for _, pk := range spec.PrimaryKeys {
		automatic[pk] = true
	}
	if spec.HasReplicationKey() {
		automatic[spec.ReplicationKey] = true
	}

	for _, prop := range spec.Properties() {
		md := MetadataValues{Inclusion: InclusionAvailable, Selected: &selected, SelectedByDefault: &selected}
		if automatic[prop] {
			md.Inclusion = InclusionAutomatic
		}
		e.Metadata = append(e.Metadata, Metadata{
			Breadcrumb: []string{breadcrumbProperties, prop},
			Metadata:   md,
		})
	}
	return e
}

// Parse creates a catalog from its JSON form, e.g. as provided with --catalog.
func Parse(data []byte) (*Catalog, error) {

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(catalogSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w, details: %v", ErrInvalidCatalog, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w, details: %v", ErrInvalidCatalog, result.Errors())
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w, details: %v", ErrInvalidCatalog, err)
	}

	seen := make(map[string]bool)
	for _, e := range c.Streams {
		if seen[e.TapStreamID] {
			return nil, fmt.Errorf("%w, details: stream %s specified more than once", ErrInvalidCatalog, e.TapStreamID)
		}
		seen[e.TapStreamID] = true
	}
	return &c, nil
}

func (c *Catalog) JSON() []byte {
	data, _ := json.MarshalIndent(c, "", "  ")
	return data
}

func (c *Catalog) Entry(id string) (*Entry, bool) {
	for _, e := range c.Streams {
		if e.TapStreamID == id {
			return e, true
		}
	}
	return nil, false
}

// Selected returns the specs of all selected streams, in catalog order. Every selected
// stream must be one of the provided specs.
func (c *Catalog) Selected(specs []*entity.StreamSpec) ([]*entity.StreamSpec, error) {

	known := make(map[string]*entity.StreamSpec, len(specs))
	for _, spec := range specs {
		known[spec.Id()] = spec
	}

	var selected []*entity.StreamSpec
	for _, e := range c.Streams {
		if !e.Selected() {
			continue
		}
		spec, ok := known[e.TapStreamID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStream, e.TapStreamID)
		}
		selected = append(selected, spec)
	}
	return selected, nil
}

// Selected tells if the stream is to be synced. Without explicit selection metadata the
// stream is selected.
func (e *Entry) Selected() bool {
	md, ok := e.metadata(nil)
	if !ok {
		return true
	}
	return md.selected(true)
}

// DeselectedProperties returns the top-level properties excluded by metadata, in sorted
// order. Properties with automatic inclusion are never deselected.
func (e *Entry) DeselectedProperties() []string {
	var out []string
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 2 || m.Breadcrumb[0] != breadcrumbProperties {
			continue
		}
		if !m.Metadata.selected(true) {
			out = append(out, m.Breadcrumb[1])
		}
	}
	sort.Strings(out)
	return out
}

func (e *Entry) metadata(breadcrumb []string) (MetadataValues, bool) {
	for _, m := range e.Metadata {
		if equalBreadcrumb(m.Breadcrumb, breadcrumb) {
			return m.Metadata, true
		}
	}
	return MetadataValues{}, false
}

func (m MetadataValues) selected(parent bool) bool {
	switch {
	case m.Inclusion == InclusionUnsupported:
		return false
	case m.Inclusion == InclusionAutomatic:
		return true
	case m.Selected != nil:
		return *m.Selected
	case m.SelectedByDefault != nil:
		return *m.SelectedByDefault
	}
	return parent
}

func equalBreadcrumb(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var catalogSchema = []byte(`
{
  "$schema": "http://json-schema.org/draft-07/schema",
  "type": "object",
  "required": ["streams"],
  "properties": {
    "streams": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["tap_stream_id"],
        "properties": {
          "tap_stream_id": { "type": "string", "minLength": 1 },
          "stream": { "type": "string" },
          "key_properties": { "type": "array", "items": { "type": "string" } },
          "replication_key": { "type": ["string", "null"] },
          "replication_method": { "type": ["string", "null"] },
          "schema": { "type": "object" },
          "metadata": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["breadcrumb", "metadata"],
              "properties": {
                "breadcrumb": { "type": "array", "items": { "type": "string" } },
                "metadata": { "type": "object" }
              }
            }
          }
        }
      }
    }
  }
}`)
