package tapfacebook

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/assembly"
	"github.com/zpiroux/tapfacebook/internal/pkg/engine"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/singer"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/void"
	"github.com/zpiroux/tapfacebook/internal/service"
)

const (
	defaultNotifyChanSize       = 128
	defaultRecordLogInterval    = 500
	defaultMaxRequestRetries    = 5
	defaultMaxLoadRetries       = 5
	defaultMaxRetryIntervalSec  = 240
	defaultRequestTimeoutSec    = int(graphapi.DefaultRequestTimeout / time.Second)
	defaultMaxConcurrentStreams = 1
)

// Config needs to be created with NewConfig() and filled in with config as applicable
// for the intended setup, and provided in the call to tapfacebook.New().
// Only Settings is mandatory. See individual struct types for documentation.
type Config struct {

	// Settings is the run configuration of the tap, validated by New().
	Settings entity.Settings

	Sink  SinkConfig
	Ops   OpsConfig
	Hooks HookConfig

	// HTTPClient overrides the default Graph API client, e.g. for custom transports.
	HTTPClient *http.Client

	// BaseURL overrides the Graph API host, e.g. for testing against a simulated API.
	BaseURL string

	// Output is where the Singer messages are written when using the "singer" sink.
	// Defaults to stdout.
	Output io.Writer

	// StateStore is optional. If set, state is loaded from it when no state is provided
	// to Sync(), and the resulting state is saved in it after each sync.
	StateStore entity.StateStore

	// Loaders are added to the config with Config.RegisterLoaderType().
	loaders entity.LoaderFactories
}

// SinkConfig specifies where extracted records are loaded.
type SinkConfig struct {

	// Id of a registered sink. Defaults to "singer", writing Singer messages to Output.
	Id string

	// Props are sink specific settings, provided to each created loader.
	Props map[string]string
}

// OpsConfig provide options for observability and resilience.
type OpsConfig struct {

	// If set to true native logging will be used (debug, info, warn, and error logs).
	// If set to false (default) no standard logging will be done by the engine, but the
	// same type of information will be provided on the notification channel, accessible
	// with Tap.NotifyChannel().
	Log bool

	// LogRecordData enables debug notifications with the full content of each record.
	LogRecordData bool

	// LogResponseBodies enables debug logs of all Graph API response bodies.
	LogResponseBodies bool

	// Size of the notification channel buffer
	NotifyChanSize int

	// The interval, in number of records, between metric notifications.
	RecordLogInterval int

	// Number of retries of retryable request and load failures.
	MaxRequestRetries int
	MaxLoadRetries    int

	// The maximum interval used during exponential backoff when retrying operations that
	// failed with errors set as retryable.
	MaxRetryIntervalSec int

	// Timeout of each Graph API request, when using the default HTTP client.
	RequestTimeoutSec int

	// Number of streams synced concurrently. 1 gives sequential syncs in catalog order.
	MaxConcurrentStreams int
}

// HookConfig enables a client to inject custom logic to the stream processing, such as
// enrichment and filtering of records.
type HookConfig struct {
	RecordHookFunc entity.RecordHookFunc
}

// NewConfig returns an initialized Config struct, required for tapfacebook.New().
// With this config applicable Sink loaders should be registered before calling
// tapfacebook.New().
func NewConfig() *Config {
	return &Config{
		Sink: SinkConfig{Id: string(entity.EntitySinger)},
		Ops: OpsConfig{
			NotifyChanSize:       defaultNotifyChanSize,
			RecordLogInterval:    defaultRecordLogInterval,
			MaxRequestRetries:    defaultMaxRequestRetries,
			MaxLoadRetries:       defaultMaxLoadRetries,
			MaxRetryIntervalSec:  defaultMaxRetryIntervalSec,
			RequestTimeoutSec:    defaultRequestTimeoutSec,
			MaxConcurrentStreams: defaultMaxConcurrentStreams,
		},
		loaders: make(entity.LoaderFactories),
	}
}

// RegisterLoaderType is used to prepare config for the tap to make this particular
// Sink/Loader type available as Sink.Id. This can only be done after a NewConfig()
// and prior to creating the tap with tapfacebook.New().
func (c *Config) RegisterLoaderType(loaderFactory entity.LoaderFactory) error {
	if _, ok := entity.ReservedEntityNames[loaderFactory.SinkId()]; ok {
		return ErrInvalidEntityId
	}
	c.registerLoaderType(loaderFactory)
	return nil
}

func (c *Config) registerLoaderType(loaderFactory entity.LoaderFactory) {
	c.loaders[loaderFactory.SinkId()] = loaderFactory
}

func preProcessConfig(config *Config, runId string, notifyChan entity.NotifyChan) service.Config {

	// Register native loader/sink types
	output := config.Output
	if output == nil {
		output = os.Stdout
	}
	config.registerLoaderType(singer.NewLoaderFactory(output))
	config.registerLoaderType(void.NewLoaderFactory())

	sinkId := config.Sink.Id
	if sinkId == "" {
		sinkId = string(entity.EntitySinger)
	}
	settings := config.Settings

	// Convert external config to internal
	var c service.Config
	c.RunId = runId
	c.Engine = engine.Config{
		NotifyChan:           notifyChan,
		Log:                  config.Ops.Log,
		RecordHookFunc:       config.Hooks.RecordHookFunc,
		RecordLogInterval:    config.Ops.RecordLogInterval,
		MaxRequestRetries:    config.Ops.MaxRequestRetries,
		MaxLoadRetries:       config.Ops.MaxLoadRetries,
		MaxRetryInterval:     time.Duration(config.Ops.MaxRetryIntervalSec) * time.Second,
		MaxConcurrentStreams: config.Ops.MaxConcurrentStreams,
		LogRecordData:        config.Ops.LogRecordData,
	}
	c.Entity = assembly.Config{
		Settings:       &settings,
		Loaders:        config.loaders,
		SinkId:         sinkId,
		SinkProps:      config.Sink.Props,
		HTTPClient:     config.HTTPClient,
		RequestTimeout: time.Duration(config.Ops.RequestTimeoutSec) * time.Second,
		BaseURL:        config.BaseURL,
		LogBodies:      config.Ops.LogResponseBodies,
		NotifyChan:     notifyChan,
		Log:            config.Ops.Log,
	}
	return c
}
