package transform

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/zpiroux/tapfacebook/entity"
)

// Transformer is stateless and immutable, and can be shared between goroutines.
type Transformer struct {
	spec       *entity.StreamSpec
	deselected []string
}

// NewTransformer creates a transformer removing the provided top-level properties from
// records. Primary keys and the replication key are never removed.
func NewTransformer(spec *entity.StreamSpec, deselected []string) *Transformer {
	t := &Transformer{spec: spec}

	protected := make(map[string]bool)
	for _, pk := range spec.PrimaryKeys {
		protected[pk] = true
	}
	if spec.HasReplicationKey() {
		protected[spec.ReplicationKey] = true
	}
	for _, prop := range deselected {
		if !protected[prop] {
			t.deselected = append(t.deselected, prop)
		}
	}
	return t
}

// Transform returns the record to load into the sink. If nothing is deselected the input
// record is returned as is.
func (t *Transformer) Transform(ctx context.Context, record *entity.Record) (*entity.Record, error) {

	if record == nil {
		return nil, fmt.Errorf("nil record provided to transformer for stream %s", t.spec.Name)
	}
	if len(t.deselected) == 0 {
		return record, nil
	}
	if !gjson.ValidBytes(record.Data) {
		return nil, fmt.Errorf("invalid JSON in record of stream %s: %s", t.spec.Name, string(record.Data))
	}

	var (
		data = record.Data
		err  error
	)
	for _, prop := range t.deselected {
		if !gjson.GetBytes(data, escape(prop)).Exists() {
			continue
		}
		data, err = sjson.DeleteBytes(data, escape(prop))
		if err != nil {
			return nil, fmt.Errorf("could not remove property %s from record of stream %s, err: %v", prop, t.spec.Name, err)
		}
	}

	return &entity.Record{
		Stream:      record.Stream,
		Data:        data,
		ExtractedAt: record.ExtractedAt,
	}, nil
}

// Deselected returns the properties removed by this transformer.
func (t *Transformer) Deselected() []string {
	return t.deselected
}

func escape(prop string) string {
	out := make([]byte, 0, len(prop))
	for i := 0; i < len(prop); i++ {
		switch prop[i] {
		case '.', '*', '?', '|', '#', '@', '!', '\\', '=', '<', '>', '%', ':', ',':
			out = append(out, '\\')
		}
		out = append(out, prop[i])
	}
	return string(out)
}
