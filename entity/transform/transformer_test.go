package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/tapfacebook/entity"
)

var adSchema = []byte(`{
  "type": "object",
  "properties": {
    "id": {"type": ["string", "null"]},
    "name": {"type": ["string", "null"]},
    "status": {"type": ["string", "null"]},
    "updated_time": {"type": ["string", "null"], "format": "date-time"},
    "tracking_specs": {"type": ["array", "null"]}
  }
}`)

func TestTransformerPassThrough(t *testing.T) {

	spec, err := entity.NewStreamSpec("ads", "/ads", []string{"id"}, "updated_time", adSchema)
	require.NoError(t, err)

	record := newRecord(`{"id":"1","name":"foo","status":"ACTIVE"}`)
	transformer := NewTransformer(spec, nil)

	out, err := transformer.Transform(context.Background(), record)
	assert.NoError(t, err)
	assert.Same(t, record, out)
}

func TestTransformerDeselection(t *testing.T) {

	spec, err := entity.NewStreamSpec("ads", "/ads", []string{"id"}, "updated_time", adSchema)
	require.NoError(t, err)

	// Keys cannot be deselected
	transformer := NewTransformer(spec, []string{"status", "id", "updated_time", "tracking_specs"})
	assert.Equal(t, []string{"status", "tracking_specs"}, transformer.Deselected())

	record := newRecord(`{"id":"1","name":"foo","status":"ACTIVE","updated_time":"2023-01-02T10:00:00+0000","tracking_specs":[{"action.type":["offsite_conversion"]}]}`)
	out, err := transformer.Transform(context.Background(), record)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","name":"foo","updated_time":"2023-01-02T10:00:00+0000"}`, string(out.Data))
	assert.Equal(t, record.Stream, out.Stream)
	assert.Equal(t, record.ExtractedAt, out.ExtractedAt)

	// Missing properties are fine
	record = newRecord(`{"id":"2","name":"bar"}`)
	out, err = transformer.Transform(context.Background(), record)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"id":"2","name":"bar"}`, string(out.Data))

	_, err = transformer.Transform(context.Background(), newRecord(`{"id":`))
	assert.Error(t, err)

	_, err = transformer.Transform(context.Background(), nil)
	assert.Error(t, err)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `action\.type`, escape("action.type"))
	assert.Equal(t, "name", escape("name"))
}

func newRecord(data string) *entity.Record {
	return &entity.Record{
		Stream:      "ads",
		Data:        []byte(data),
		ExtractedAt: time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
