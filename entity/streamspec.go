package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Replication methods as used in catalogs and state
const (
	ReplicationIncremental = "INCREMENTAL"
	ReplicationFullTable   = "FULL_TABLE"
)

// StreamSpec is the static description of a single Graph API entity type, such as ads or
// campaigns. It is what the catalog is generated from and what sinks receive in their
// entity Config.
type StreamSpec struct {
	Name string `json:"name"`

	// Path is the edge path relative to the ad account root URL, e.g. "/ads".
	Path string `json:"path"`

	PrimaryKeys []string `json:"primaryKeys"`

	// ReplicationKey is the field used for ordering records. Empty if the stream has none.
	ReplicationKey string `json:"replicationKey,omitempty"`

	// JSON path expressions for record and next-page-token extraction. An empty
	// NextPageTokenPath means the cursor is taken from a response header instead.
	RecordsPath       string `json:"recordsPath"`
	NextPageTokenPath string `json:"nextPageTokenPath"`

	// JSON schema of each record
	Schema json.RawMessage `json:"schema"`
}

// NewStreamSpec creates a spec and validates its schema, which needs to be a JSON schema
// object with a "properties" map.
func NewStreamSpec(name, path string, primaryKeys []string, replicationKey string, schema []byte) (*StreamSpec, error) {
	s := &StreamSpec{
		Name:           name,
		Path:           path,
		PrimaryKeys:    primaryKeys,
		ReplicationKey: replicationKey,
		Schema:         schema,
	}
	return s, s.Validate()
}

func (s *StreamSpec) Id() string {
	return s.Name
}

func (s *StreamSpec) HasReplicationKey() bool {
	return s.ReplicationKey != ""
}

func (s *StreamSpec) ReplicationMethod() string {
	if s.HasReplicationKey() {
		return ReplicationIncremental
	}
	return ReplicationFullTable
}

// Properties returns the sorted top-level property names declared in the schema.
func (s *StreamSpec) Properties() []string {
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(s.Schema, &schema); err != nil {
		return nil
	}
	props := make([]string, 0, len(schema.Properties))
	for p := range schema.Properties {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}

// Validate checks the schema and that key properties are declared in it.
func (s *StreamSpec) Validate() error {
	if s.Name == "" {
		return errors.New("stream spec has no name")
	}
	if err := validateJSON(streamSchemaSchema, s.Schema); err != nil {
		return fmt.Errorf("invalid schema for stream %s: %w", s.Name, err)
	}

	declared := make(map[string]bool)
	for _, p := range s.Properties() {
		declared[p] = true
	}
	for _, pk := range s.PrimaryKeys {
		if !declared[pk] {
			return fmt.Errorf("primary key %s not declared in schema of stream %s", pk, s.Name)
		}
	}
	if s.HasReplicationKey() && !declared[s.ReplicationKey] {
		return fmt.Errorf("replication key %s not declared in schema of stream %s", s.ReplicationKey, s.Name)
	}
	return nil
}

func (s *StreamSpec) JSON() []byte {
	specData, _ := json.Marshal(s)
	return specData
}

func validateJSON(schema, document []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(document)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		validationErrors := ""
		for _, desc := range result.Errors() {
			validationErrors += " - " + desc.String()
		}
		err = errors.New(validationErrors)
	}
	return err
}

// Minimal requirements on a stream's record schema
var streamSchemaSchema = []byte(`
{
  "$schema": "http://json-schema.org/draft-07/schema",
  "type": "object",
  "required": ["properties"],
  "properties": {
    "type": {
      "anyOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    },
    "properties": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "object"}
    }
  }
}`)
