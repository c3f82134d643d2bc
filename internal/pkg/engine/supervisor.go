package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

var log *logger.Log

func init() {
	log = logging.New()
}

var ErrStreamNotFound = errors.New("stream not found")

// SyncError lists the streams whose sync failed during a run. Streams not listed
// completed successfully.
type SyncError struct {
	Failed map[string]error
}

func (e *SyncError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%d stream(s) failed:", len(names))
	for _, name := range names {
		fmt.Fprintf(&b, " [%s: %v]", name, e.Failed[name])
	}
	return b.String()
}

// Is makes errors.Is match any of the stream errors.
func (e *SyncError) Is(target error) bool {
	for _, err := range e.Failed {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Builder creates the stream entities for a spec.
type Builder interface {
	Build(ctx context.Context, spec *entity.StreamSpec) (*Stream, error)
}

// Supervisor is responsible for the lifecycle of the stream executors of a sync run. It
// creates one Executor per stream spec and runs them, sequentially or with bounded
// concurrency, until all are done.
type Supervisor struct {
	config        Config
	streamBuilder Builder
	archivist     *executorArchivist
	instanceId    string
}

func NewSupervisor(config Config, streamBuilder Builder, instanceId string) *Supervisor {
	return &Supervisor{
		config:        config.withDefaults(),
		streamBuilder: streamBuilder,
		archivist:     newExecutorArchivist(),
		instanceId:    instanceId,
	}
}

// Init builds the executors of the provided streams, in the order they are to be run.
func (s *Supervisor) Init(ctx context.Context, specs []*entity.StreamSpec) error {

	for _, spec := range specs {

		stream, err := s.streamBuilder.Build(ctx, spec)
		if err != nil {
			log.Errorf(s.lgprfx()+"could not build stream %s, err: %v", spec.Id(), err)
			return err
		}

		executor := NewExecutor(s.config, stream)
		if executor == nil {
			return fmt.Errorf(s.lgprfx()+"%w, could not create executor for stream: %s", ErrInvalidStream, spec.Id())
		}
		if err := s.archivist.Set(executor); err != nil {
			return err
		}
		log.Infof(s.lgprfx()+"Created executor with ID: [%s], for stream: %s", stream.Instance(), spec.Id())
	}
	return nil
}

// Run syncs all streams, with at most config.MaxConcurrentStreams running at the same
// time. A failing stream does not stop the others. If any stream failed a *SyncError
// is returned.
func (s *Supervisor) Run(ctx context.Context, state *entity.State) error {

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[string]error)
		sem    = make(chan struct{}, s.config.MaxConcurrentStreams)
	)

	fail := func(id string, err error) {
		mu.Lock()
		failed[id] = err
		mu.Unlock()
	}

	executors := s.archivist.All()
	log.Infof(s.lgprfx()+"Running %d stream(s), max concurrency: %d", len(executors), s.config.MaxConcurrentStreams)

	for _, executor := range executors {

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			fail(executor.StreamId(), ctx.Err())
			continue
		}

		wg.Add(1)
		go func(executor *Executor) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := executor.Run(ctx, state); err != nil {
				fail(executor.StreamId(), err)
			}
		}(executor)
	}

	wg.Wait()
	log.Infof(s.lgprfx()+"All executors finished, %d of %d stream(s) failed", len(failed), len(executors))

	if len(failed) > 0 {
		return &SyncError{Failed: failed}
	}
	return nil
}

// Shutdown is called by the service during shutdown
func (s *Supervisor) Shutdown(ctx context.Context, err error) {

	reason := "client request or sync done (no error)"
	if err != nil {
		reason = err.Error()
	}
	log.Infof(s.lgprfx()+"Shutting down. Reason: '%v'", reason)

	for _, executor := range s.archivist.All() {
		executor.Shutdown(ctx)
	}
}

// Executor returns the executor of a stream.
func (s *Supervisor) Executor(id string) (*Executor, error) {
	executor := s.archivist.Get(id)
	if executor == nil {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return executor, nil
}

// Streams returns the ids of all streams, in run order.
func (s *Supervisor) Streams() []string {
	var ids []string
	for _, executor := range s.archivist.All() {
		ids = append(ids, executor.StreamId())
	}
	return ids
}

// Metrics returns the current metrics of all streams.
func (s *Supervisor) Metrics() map[string]entity.Metrics {
	metrics := make(map[string]entity.Metrics)
	for _, executor := range s.archivist.All() {
		metrics[executor.StreamId()] = executor.Metrics()
	}
	return metrics
}

func (s *Supervisor) lgprfx() string {
	return "[supervisor:" + s.instanceId + "] "
}

// executorArchivist is the keeper of all Executors of a run.
type executorArchivist struct {
	order  []string
	x      map[string]*Executor
	xMutex sync.Mutex
}

func newExecutorArchivist() *executorArchivist {
	return &executorArchivist{
		x: make(map[string]*Executor),
	}
}

func (e *executorArchivist) Set(executor *Executor) error {
	e.xMutex.Lock()
	defer e.xMutex.Unlock()
	id := executor.StreamId()
	if _, exists := e.x[id]; exists {
		return fmt.Errorf("stream %s specified more than once", id)
	}
	e.order = append(e.order, id)
	e.x[id] = executor
	return nil
}

func (e *executorArchivist) Get(id string) *Executor {
	e.xMutex.Lock()
	defer e.xMutex.Unlock()
	return e.x[id]
}

func (e *executorArchivist) All() []*Executor {
	e.xMutex.Lock()
	defer e.xMutex.Unlock()
	out := make([]*Executor, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.x[id])
	}
	return out
}
