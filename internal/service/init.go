package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/assembly"
	"github.com/zpiroux/tapfacebook/internal/pkg/engine"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
)

func (s *Service) initConfig(config Config) error {
	var err error
	s.config = config

	if config.Entity.Settings == nil {
		return fmt.Errorf("%w, details: no settings provided", entity.ErrInvalidSettings)
	}
	if err = config.Entity.Settings.Validate(); err != nil {
		return err
	}
	if _, ok := config.Entity.Loaders[config.Entity.SinkId]; !ok {
		return fmt.Errorf("sink '%s' is not registered", config.Entity.SinkId)
	}
	if s.config.Entity.NotifyChan == nil {
		s.config.Entity.NotifyChan = s.config.Engine.NotifyChan
	}
	s.config.Entity.Log = s.config.Engine.Log

	s.specs, err = graphapi.Specs()
	if err != nil {
		return fmt.Errorf("could not create stream specs, error: %w", err)
	}
	return nil
}

func (s *Service) initEngine() {
	s.entityFactory = assembly.NewStreamEntityFactory(s.config.Entity)
	s.streamBuilder = engine.NewStreamBuilder(s.entityFactory)
}

func (s *Service) initSupervisor(ctx context.Context, specs []*entity.StreamSpec) error {

	supervisor := engine.NewSupervisor(s.config.Engine, s.streamBuilder, s.config.RunId)
	if err := supervisor.Init(ctx, specs); err != nil {
		return errors.New("error initializing supervisor: " + err.Error())
	}
	s.supervisor = supervisor
	return nil
}

func (s *Service) checkAccount(ctx context.Context) error {

	settings := s.config.Entity.Settings
	client := graphapi.NewClient("check:"+s.config.RunId, s.config.Entity.HTTPClient, s.config.Entity.RequestTimeout)
	params := url.Values{}
	params.Set("fields", "id,name")
	params.Set("limit", "1")

	resp, err, _ := client.Get(ctx, graphapi.AccountURL(s.config.Entity.BaseURL, settings), params, graphapi.NewBearerTokenAuthenticator(settings.AccessToken))
	if err != nil {
		return fmt.Errorf("connection check failed for account %s: %w", settings.AccountID, err)
	}
	log.Infof("[service:%s] connection check successful, account response: %s", s.config.RunId, string(resp.Body))
	return nil
}
