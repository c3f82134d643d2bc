package engine

import (
	"context"

	"github.com/zpiroux/tapfacebook/entity"
)

// Transformer prepares an extracted record for loading. A nil record returned without
// error means the record should not be loaded.
type Transformer interface {
	Transform(ctx context.Context, record *entity.Record) (*entity.Record, error)
}

// Stream holds the entities taking part in syncing one Graph API entity type.
type Stream struct {
	source      entity.PaginatedJSONStream
	requester   entity.Requester
	transformer Transformer
	loader      entity.Loader
	instance    string
}

func NewStream(
	instance string,
	source entity.PaginatedJSONStream,
	requester entity.Requester,
	transformer Transformer,
	loader entity.Loader) *Stream {

	return &Stream{
		instance:    instance,
		source:      source,
		requester:   requester,
		transformer: transformer,
		loader:      loader,
	}
}

func (s *Stream) Spec() *entity.StreamSpec {
	if s.source == nil {
		return nil
	}
	return s.source.Spec()
}

func (s *Stream) Instance() string {
	return s.instance
}

func (s *Stream) Source() entity.PaginatedJSONStream {
	return s.source
}

func (s *Stream) Requester() entity.Requester {
	return s.requester
}

func (s *Stream) Transformer() Transformer {
	return s.transformer
}

func (s *Stream) Loader() entity.Loader {
	return s.loader
}
