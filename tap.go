// Package tapfacebook extracts entities of a Facebook ad account (ads, ad sets,
// campaigns, insights, etc.) from the Graph API and loads them into a sink, by default
// as a Singer message stream.
package tapfacebook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/catalog"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
	"github.com/zpiroux/tapfacebook/internal/service"
)

// Error values returned by the Tap API.
// Many of these errors will also contain additional details about the error.
// Error matching can still be done with 'if errors.Is(err, ErrInvalidCatalog)' etc.
// due to error wrapping.
var (
	ErrConfigNotInitialized = errors.New("tapfacebook.Config need to be created with NewConfig()")
	ErrInvalidSettings      = entity.ErrInvalidSettings
	ErrTapNotInitialized    = errors.New("tap not initialized")
	ErrUnknownStream        = errors.New("unknown stream")
	ErrInvalidCatalog       = errors.New("invalid catalog")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidEntityId      = errors.New("invalid sink ID")
	ErrSyncFailed           = errors.New("sync failed")
	ErrAlreadySynced        = errors.New("tap has already been synced, create a new one for each run")
	ErrAccessTokenExpired   = graphapi.ErrAccessTokenExpired
)

type Tap struct {
	service    *service.Service
	config     *Config
	runId      string
	notifyChan entity.NotifyChan

	mu     sync.Mutex
	synced bool
	cancel context.CancelFunc
}

// New validates the provided config, which needs to be initially created with NewConfig(),
// and creates the tap's internal services.
func New(ctx context.Context, config *Config) (*Tap, error) {
	if config == nil || config.loaders == nil {
		return nil, ErrConfigNotInitialized
	}

	t := &Tap{
		config:     config,
		runId:      uuid.New().String(),
		notifyChan: make(entity.NotifyChan, config.Ops.NotifyChanSize),
	}

	var err error
	t.service, err = service.New(ctx, preProcessConfig(config, t.runId, t.notifyChan))
	if err != nil {
		if errors.Is(err, entity.ErrInvalidSettings) {
			return nil, err
		}
		return nil, errWithDetails(ErrInvalidEntityId, err)
	}
	return t, nil
}

// RunId returns the unique ID of this tap instance, used in logs and notifications.
func (t *Tap) RunId() string {
	return t.runId
}

// Discover returns the catalog of all supported streams, with all streams and properties
// selected, in the Singer catalog format.
func (t *Tap) Discover() ([]byte, error) {
	if t.service == nil {
		return nil, ErrTapNotInitialized
	}
	return t.service.Discover().JSON(), nil
}

// Check verifies the access token and the account ID with a single request.
func (t *Tap) Check(ctx context.Context) error {
	if t.service == nil {
		return ErrTapNotInitialized
	}
	return t.service.Check(ctx)
}

// Sync extracts all streams selected in the catalog and returns the resulting state.
// A nil catalog selects all streams. A nil state is loaded from the configured
// StateStore, if any.
//
// If one or more streams fail, the other streams are still synced, and the returned
// state holds the bookmarks of the successful ones, together with an ErrSyncFailed error.
// A Tap can only be synced once.
func (t *Tap) Sync(ctx context.Context, catalogData []byte, stateData []byte) ([]byte, error) {
	if t.service == nil {
		return nil, ErrTapNotInitialized
	}

	t.mu.Lock()
	if t.synced {
		t.mu.Unlock()
		return nil, ErrAlreadySynced
	}
	t.synced = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	var cat *catalog.Catalog
	if catalogData != nil {
		var err error
		if cat, err = catalog.Parse(catalogData); err != nil {
			return nil, errWithDetails(ErrInvalidCatalog, err)
		}
	}

	state, err := t.loadState(ctx, stateData)
	if err != nil {
		return nil, err
	}

	if err := t.service.Init(ctx, cat); err != nil {
		if errors.Is(err, catalog.ErrUnknownStream) {
			return nil, errWithDetails(ErrUnknownStream, err)
		}
		return nil, errWithDetails(ErrInvalidCatalog, err)
	}

	syncErr := t.service.Run(ctx, state)

	if t.config.StateStore != nil {
		if err := t.config.StateStore.Save(ctx, state); err != nil {
			return state.JSON(), fmt.Errorf("could not save state: %w", err)
		}
	}
	if syncErr != nil {
		return state.JSON(), errWithDetails(ErrSyncFailed, syncErr)
	}
	return state.JSON(), nil
}

func (t *Tap) loadState(ctx context.Context, data []byte) (*entity.State, error) {
	if data == nil && t.config.StateStore != nil {
		state, err := t.config.StateStore.Load(ctx)
		if err != nil {
			return nil, errWithDetails(ErrInvalidState, err)
		}
		return state, nil
	}
	state, err := entity.ParseState(data)
	if err != nil {
		return nil, errWithDetails(ErrInvalidState, err)
	}
	return state, nil
}

// Streams returns the names of the streams being synced, in sync order, or all supported
// streams if Sync has not been called.
func (t *Tap) Streams() []string {
	if t.service == nil {
		return nil
	}
	if streams := t.service.Streams(); streams != nil {
		return streams
	}
	var names []string
	for _, spec := range t.service.Specs() {
		names = append(names, spec.Name)
	}
	return names
}

// Metrics returns the current metrics of each stream being synced.
func (t *Tap) Metrics() map[string]entity.Metrics {
	if t.service == nil {
		return nil
	}
	return t.service.Metrics()
}

// NotifyChannel returns the channel on which notifications from the engine are sent.
// Events are dropped if the channel is full, so reading from it is optional.
func (t *Tap) NotifyChannel() entity.NotifyChan {
	return t.notifyChan
}

// Entities returns IDs of all registered sinks.
func (t *Tap) Entities() map[string]bool {
	entities := make(map[string]bool)
	for id := range t.config.loaders {
		entities[id] = true
	}
	return entities
}

// SinkIds returns the sorted IDs of all registered sinks.
func (t *Tap) SinkIds() []string {
	var ids []string
	for id := range t.Entities() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels an ongoing sync and closes all sinks. It should be called when the
// app is terminating.
func (t *Tap) Shutdown(ctx context.Context) error {
	if t.service == nil {
		return ErrTapNotInitialized
	}
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	t.service.Shutdown(ctx, nil)
	return nil
}

// EnrichRecord is a convenience function that could be used for record enrichment
// purposes inside a hook function as specified in Config.Hooks.
// It's a wrapper on the sjson package. See doc at https://github.com/tidwall/sjson.
func EnrichRecord(record []byte, path string, value any) ([]byte, error) {
	return sjson.SetBytes(record, path, value)
}

func errWithDetails(err error, errDetails error) error {
	return fmt.Errorf("%w, details: %v", err, errDetails)
}
