package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/assembly"
	"github.com/zpiroux/tapfacebook/internal/pkg/catalog"
	"github.com/zpiroux/tapfacebook/internal/pkg/engine"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

var log *logger.Log

func init() {
	log = logging.New()
}

var ErrNotInitialized = errors.New("service not initialized with a catalog")

// Service is responsible for creating and injecting concrete implementations of the
// various parts required by the tap to function.
type Service struct {
	config        Config
	specs         []*entity.StreamSpec
	entityFactory *assembly.StreamEntityFactory
	streamBuilder *engine.StreamBuilder
	supervisor    *engine.Supervisor
}

type Config struct {
	RunId  string
	Engine engine.Config
	Entity assembly.Config
}

func (c Config) Close() error {
	return c.Entity.Close()
}

func New(ctx context.Context, cfg Config) (*Service, error) {

	var s Service

	if err := s.initConfig(cfg); err != nil {
		return nil, err
	}
	s.initEngine()
	return &s, nil
}

// Discover returns the default catalog with all streams selected.
func (s *Service) Discover() *catalog.Catalog {
	return catalog.Discover(s.specs)
}

// Init prepares the selected streams of the catalog for a run. A nil catalog gives the
// discovered default.
func (s *Service) Init(ctx context.Context, c *catalog.Catalog) error {

	if c == nil {
		c = s.Discover()
	}
	selected, err := c.Selected(s.specs)
	if err != nil {
		return err
	}
	s.entityFactory.SetCatalog(c)
	return s.initSupervisor(ctx, selected)
}

func (s *Service) Run(ctx context.Context, state *entity.State) error {
	if s.supervisor == nil {
		return ErrNotInitialized
	}
	return s.supervisor.Run(ctx, state)
}

// Check verifies that the access token and account are valid by fetching the account.
func (s *Service) Check(ctx context.Context) error {
	return s.checkAccount(ctx)
}

func (s *Service) Shutdown(ctx context.Context, err error) {
	if s.supervisor != nil {
		s.supervisor.Shutdown(ctx, err)
	}
	if err := s.config.Close(); err != nil {
		log.Errorf("error closing stream entities: %v", err)
	}
}

// Streams returns the IDs of the streams of the run, in run order.
func (s *Service) Streams() []string {
	if s.supervisor == nil {
		return nil
	}
	return s.supervisor.Streams()
}

func (s *Service) Metrics() map[string]entity.Metrics {
	if s.supervisor == nil {
		return make(map[string]entity.Metrics)
	}
	return s.supervisor.Metrics()
}

func (s *Service) Executor(streamId string) (*engine.Executor, error) {
	if s.supervisor == nil {
		return nil, ErrNotInitialized
	}
	return s.supervisor.Executor(streamId)
}

// Specs returns the specs of all supported streams.
func (s *Service) Specs() []*entity.StreamSpec {
	return s.specs
}

func (s *Service) String() string {
	var settings string
	if s.config.Entity.Settings != nil {
		settings = s.config.Entity.Settings.String()
	}
	return fmt.Sprintf("runId: %s, sink: %s, baseURL: %s, maxConcurrentStreams: %d, settings: {%s}",
		s.config.RunId, s.config.Entity.SinkId, s.config.Entity.BaseURL, s.config.Engine.MaxConcurrentStreams, settings)
}
