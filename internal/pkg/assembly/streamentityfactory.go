package assembly

import (
	"context"
	"fmt"
	"sync"

	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/entity/transform"
	"github.com/zpiroux/tapfacebook/internal/pkg/catalog"
	"github.com/zpiroux/tapfacebook/internal/pkg/engine"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
)

// StreamEntityFactory creates stream entities based on the run config and catalog and is
// a singleton, created by the Service, and operated by the StreamBuilder (also a
// singleton), which is given to the Supervisor during creation.
type StreamEntityFactory struct {
	config Config

	mu      sync.RWMutex
	catalog *catalog.Catalog
}

func NewStreamEntityFactory(config Config) *StreamEntityFactory {
	return &StreamEntityFactory{config: config}
}

// SetCatalog provides the catalog governing property selection of created transformers.
func (s *StreamEntityFactory) SetCatalog(c *catalog.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

func (s *StreamEntityFactory) CreateSource(ctx context.Context, spec *entity.StreamSpec) (entity.PaginatedJSONStream, error) {

	def, err := graphapi.Definition(spec.Name)
	if err != nil {
		return nil, err
	}
	stream, err := graphapi.NewStream(def, s.config.Settings, graphapi.Options{
		BaseURL: s.config.BaseURL,
		Now:     s.config.Now,
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *StreamEntityFactory) CreateRequester(ctx context.Context, spec *entity.StreamSpec, instanceId string) (entity.Requester, error) {
	client := graphapi.NewClient(spec.Name+":"+instanceId, s.config.HTTPClient, s.config.RequestTimeout)
	client.SetLogBodies(s.config.LogBodies)
	return client, nil
}

func (s *StreamEntityFactory) CreateTransformer(ctx context.Context, spec *entity.StreamSpec) (engine.Transformer, error) {

	var deselected []string
	s.mu.RLock()
	if s.catalog != nil {
		if e, ok := s.catalog.Entry(spec.Id()); ok {
			deselected = e.DeselectedProperties()
		}
	}
	s.mu.RUnlock()
	return transform.NewTransformer(spec, deselected), nil
}

func (s *StreamEntityFactory) CreateLoader(ctx context.Context, spec *entity.StreamSpec, instanceId string) (entity.Loader, error) {

	lf, ok := s.config.Loaders[s.config.SinkId]
	if !ok {
		return nil, fmt.Errorf("could not create loader, sink type '%s' not registered", s.config.SinkId)
	}

	return lf.NewLoader(ctx, entity.Config{
		Spec:       spec,
		ID:         instanceId,
		NotifyChan: s.config.NotifyChan,
		Log:        s.config.Log,
		Props:      s.config.SinkProps,
	})
}
