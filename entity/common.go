package entity

import (
	"errors"
)

// Native sink entity types
type EntityType string

const (
	EntityInvalid EntityType = "invalid"
	EntityVoid    EntityType = "void"
	EntitySinger  EntityType = "singer"
)

var ReservedEntityNames = map[string]bool{
	string(EntityInvalid): true,
	string(EntityVoid):    true,
	string(EntitySinger):  true,
}

// Config is the Entity Config to use with Entity factories
type Config struct {
	Spec       *StreamSpec
	ID         string
	NotifyChan NotifyChan
	Log        bool

	// Props holds sink specific key/value settings, as provided in the tap config.
	Props map[string]string
}

// Metrics provided by the engine of its operations, per stream. Accessible from
// the tap API with Tap.Metrics().
type Metrics struct {

	// Total number of HTTP requests issued towards the Graph API, including retries.
	Requests int64

	// Total number of pages successfully fetched.
	Pages int64

	// Total time spent waiting for Graph API responses.
	RequestTimeMicros int64

	// Total number of records extracted from fetched pages, regardless of the outcome of
	// downstream processing.
	RecordsProcessed int64

	// Total amount of record data extracted
	BytesProcessed int64

	// Total number of records successfully processed by the sink.
	RecordsStoredInSink int64

	// Total time spent ingesting records in the sink successfully
	SinkProcessingTimeMicros int64

	// Total number of successful calls to the Sink's StreamLoad method
	SinkOperations int64

	// Total amount of data successfully ingested
	BytesIngested int64
}

func (m *Metrics) Reset() {
	m.Requests = 0
	m.Pages = 0
	m.RequestTimeMicros = 0
	m.RecordsProcessed = 0
	m.BytesProcessed = 0
	m.RecordsStoredInSink = 0
	m.SinkProcessingTimeMicros = 0
	m.SinkOperations = 0
	m.BytesIngested = 0
}

// An entity can request to be shut down. This error code should be returned and it's up to the
// Executor to decide if the stream should be aborted or any other action to be taken.
var ErrEntityShutdownRequested = errors.New("entity shutdown requested")
