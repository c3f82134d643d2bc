package entity

import (
	"context"
)

type LoaderFactories map[string]LoaderFactory

// LoaderFactory enables loaders/sinks to be handled as plug-ins to the tap.
// A factory is registered with Config.RegisterLoaderType() for a sink
// type to be selectable as output of a sync.
type LoaderFactory interface {
	// SinkId returns the sink ID for which the loader is implemented
	SinkId() string

	// NewLoader creates a new loader entity, one per synced stream.
	NewLoader(ctx context.Context, c Config) (Loader, error)

	// Close is called after the tap has been shut down
	Close() error
}

// Loader interface required for stream sink Loader implementations.
// A Loader receives all records from one page at a time, in document order.
type Loader interface {

	// If successful the resource ID of the last loaded record is returned, if the sink
	// has such a concept.
	// If input 'records' is nil or empty, an error is to be returned.
	StreamLoad(ctx context.Context, records []*Record) (string, error, bool)

	// Called by Executor when the stream is done or shutting down
	Shutdown(ctx context.Context)
}

// StateLoader is an optional interface for loaders whose output format carries sync
// state, such as the Singer message stream. LoadState is called with the full run state
// each time a stream completes.
type StateLoader interface {
	LoadState(ctx context.Context, state *State) error
}
