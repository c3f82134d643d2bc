package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
	"github.com/zpiroux/tapfacebook/pkg/notify"
)

var (
	ErrHookUnretryableError = errors.New("RecordHookFunc reported unretryable error")
	ErrHookInvalidAction    = errors.New("RecordHookFunc returned invalid action value")
	ErrPaginationLoop       = errors.New("next page token equals the previous one")
	ErrInvalidStream        = errors.New("stream is missing required entities")
	ErrExecutorPanic        = errors.New("panic during stream sync")
	ErrAlreadyRun           = errors.New("executor has already been run")
)

// SyncState is the pagination state of a stream sync.
type SyncState int32

const (
	SyncStateAwaitingFirstPage SyncState = iota
	SyncStateFetchingPage
	SyncStateHasNextPage
	SyncStateExhausted
	SyncStateFailed
)

var syncStateName = map[SyncState]string{
	SyncStateAwaitingFirstPage: "AwaitingFirstPage",
	SyncStateFetchingPage:      "FetchingPage",
	SyncStateHasNextPage:       "HasNextPage",
	SyncStateExhausted:         "Exhausted",
	SyncStateFailed:            "Failed",
}

func (s SyncState) String() string {
	if name, ok := syncStateName[s]; ok {
		return name
	}
	return fmt.Sprintf("SyncState(%d)", int32(s))
}

// Executor syncs a single stream, one page at a time, from the Graph API to the sink.
// The stream it is executing is configured and instantiated by the StreamBuilder.
type Executor struct {
	config   Config
	stream   *Stream
	id       string
	notifier *notify.Notifier

	state   int32 // SyncState
	started int32

	mu                 sync.Mutex
	cancel             context.CancelFunc
	shutdownInProgress bool
	loaderShutdown     sync.Once

	// Highest replication key value seen in loaded records
	bookmark string

	metrics processingMetrics
}

// Counters are only updated atomically.
type processingMetrics struct {
	Requests                 int64
	Pages                    int64
	RequestTimeMicros        int64
	RecordsProcessed         int64
	BytesProcessed           int64
	RecordsStoredInSink      int64
	SinkProcessingTimeMicros int64
	SinkOperations           int64
	BytesIngested            int64
}

func (p *processingMetrics) String() string {
	out, _ := json.Marshal(p.snapshot())
	return string(out)
}

func (p *processingMetrics) snapshot() entity.Metrics {
	return entity.Metrics{
		Requests:                 atomic.LoadInt64(&p.Requests),
		Pages:                    atomic.LoadInt64(&p.Pages),
		RequestTimeMicros:        atomic.LoadInt64(&p.RequestTimeMicros),
		RecordsProcessed:         atomic.LoadInt64(&p.RecordsProcessed),
		BytesProcessed:           atomic.LoadInt64(&p.BytesProcessed),
		RecordsStoredInSink:      atomic.LoadInt64(&p.RecordsStoredInSink),
		SinkProcessingTimeMicros: atomic.LoadInt64(&p.SinkProcessingTimeMicros),
		SinkOperations:           atomic.LoadInt64(&p.SinkOperations),
		BytesIngested:            atomic.LoadInt64(&p.BytesIngested),
	}
}

// NewExecutor returns nil if the stream is missing any of its entities.
func NewExecutor(config Config, stream *Stream) *Executor {

	if !validStream(stream) {
		return nil
	}

	e := &Executor{
		config: config.withDefaults(),
		stream: stream,
		id:     stream.Instance(),
	}

	var log *logger.Log
	if config.Log {
		log = logging.New()
	}
	e.notifier = notify.New(config.NotifyChan, log, 2, "executor", e.id, e.StreamId())
	return e
}

func validStream(stream *Stream) bool {
	if stream == nil {
		return false
	}
	return stream.Spec() != nil &&
		stream.Requester() != nil &&
		stream.Transformer() != nil &&
		stream.Loader() != nil
}

func (e *Executor) StreamId() string {
	return e.stream.Spec().Id()
}

func (e *Executor) Stream() *Stream {
	return e.stream
}

func (e *Executor) State() SyncState {
	return SyncState(atomic.LoadInt32(&e.state))
}

func (e *Executor) setState(s SyncState) {
	atomic.StoreInt32(&e.state, int32(s))
}

func (e *Executor) Metrics() entity.Metrics {
	return e.metrics.snapshot()
}

// Bookmark returns the highest replication key value seen in loaded records, if the
// stream has a replication key and any records were loaded.
func (e *Executor) Bookmark() (entity.Bookmark, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bookmark == "" {
		return entity.Bookmark{}, false
	}
	return entity.Bookmark{
		ReplicationKey:      e.stream.Spec().ReplicationKey,
		ReplicationKeyValue: e.bookmark,
	}, true
}

// Run syncs all pages of the stream. On success the stream bookmark is written to state
// (if non-nil) and handed to the loader if it accepts state.
// An executor can only be run once.
func (e *Executor) Run(ctx context.Context, state *entity.State) (err error) {

	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return ErrAlreadyRun
	}

	e.mu.Lock()
	if e.shutdownInProgress {
		e.mu.Unlock()
		return entity.ErrEntityShutdownRequested
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	defer e.runExit(&err)
	e.notifier.Notify(entity.NotifyLevelInfo, "Starting up, url: %s", e.stream.Source().URL())

	if err = e.syncPages(ctx); err != nil {
		e.setState(SyncStateFailed)
		e.notifier.Notify(entity.NotifyLevelError, "Stream sync failed, err: %v", err)
		return err
	}

	if err = e.emitState(ctx, state); err != nil {
		return err
	}

	e.notifier.Notify(entity.NotifyLevelInfo, "Executor finished. Metrics: %s", e.metrics.String())
	return nil
}

func (e *Executor) runExit(err *error) {
	// Protection against badly written sink plugins or external hook logic
	if r := recover(); r != nil {
		e.setState(SyncStateFailed)
		*err = fmt.Errorf("%w, stream: %s, details: %v", ErrExecutorPanic, e.StreamId(), r)
		e.notifier.Notify(entity.NotifyLevelError, "Panic (%v) during sync of stream %s, terminating stream", r, e.StreamId())
	}
	e.shutdownLoader(context.Background())
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()
}

// syncPages drives the page loop:
//
//	AwaitingFirstPage -> FetchingPage -> HasNextPage -> FetchingPage ... -> Exhausted
func (e *Executor) syncPages(ctx context.Context) error {

	source := e.stream.Source()
	token := entity.NoPageToken

	for {
		e.setState(SyncStateFetchingPage)

		resp, err := e.fetchPage(ctx, token)
		if err != nil {
			return err
		}

		hookShutdown, err := e.processPage(ctx, resp)
		if err != nil {
			return err
		}
		if hookShutdown {
			e.notifier.Notify(entity.NotifyLevelInfo, "Shutdown requested by RecordHookFunc, ending sync after %d page(s)", atomic.LoadInt64(&e.metrics.Pages))
			e.setState(SyncStateExhausted)
			return nil
		}

		next, err := source.NextToken(resp, token)
		if err != nil {
			return err
		}
		if next.IsNone() {
			e.setState(SyncStateExhausted)
			return nil
		}
		if next == token {
			return fmt.Errorf("%w, stream: %s, token: %s", ErrPaginationLoop, e.StreamId(), token)
		}

		e.setState(SyncStateHasNextPage)
		token = next
	}
}

// fetchPage requests the page identified by token, retrying retryable errors with
// exponential backoff.
func (e *Executor) fetchPage(ctx context.Context, token entity.PageToken) (*entity.Response, error) {

	source := e.stream.Source()
	backoff := e.config.InitialRetryBackoff

	for attempt := 0; ; attempt++ {

		startTime := time.Now()
		resp, err, retryable := e.stream.Requester().Get(ctx, source.URL(), source.RequestParams(token), source.Authenticator())
		atomic.AddInt64(&e.metrics.Requests, 1)
		atomic.AddInt64(&e.metrics.RequestTimeMicros, time.Since(startTime).Microseconds())

		if err == nil {
			atomic.AddInt64(&e.metrics.Pages, 1)
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !retryable || attempt >= e.config.MaxRequestRetries {
			return nil, fmt.Errorf("could not fetch page (token: %s) after %d attempt(s): %w", token, attempt+1, err)
		}

		e.notifier.Notify(entity.NotifyLevelWarn, "Page request failed with error: %v, issuing retry attempt #%d, in %v", err, attempt+1, backoff)
		if !sleepCtx(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff, e.config.MaxRetryInterval)
	}
}

// processPage runs all records of the page through hook and transformer, and loads the
// result into the sink. The returned bool is true if the hook requested shutdown.
func (e *Executor) processPage(ctx context.Context, resp *entity.Response) (bool, error) {

	var (
		transformed   []*entity.Record
		bytesIngested int64
		hookShutdown  bool
	)

	records, err := e.stream.Source().ExtractRecords(resp)
	if err != nil {
		return false, err
	}

	spec := e.stream.Spec()

	for records.Next() {
		record := records.Record()

		nbRecords := atomic.AddInt64(&e.metrics.RecordsProcessed, 1)
		atomic.AddInt64(&e.metrics.BytesProcessed, int64(len(record.Data)))
		if nbRecords%int64(e.config.RecordLogInterval) == 0 {
			e.notifier.Notify(entity.NotifyLevelInfo, "[metric] nb records processed: %d, stored in sink: %d", nbRecords, atomic.LoadInt64(&e.metrics.RecordsStoredInSink))
		}

		if e.config.RecordHookFunc != nil {
			action := e.config.RecordHookFunc(ctx, spec, &record.Data)

			switch action {
			case entity.HookActionProceed:
			case entity.HookActionSkip:
				continue
			case entity.HookActionUnretryableError:
				return false, ErrHookUnretryableError
			case entity.HookActionShutdown:
				hookShutdown = true
			default:
				return false, fmt.Errorf("%w : %v", ErrHookInvalidAction, action)
			}
			if hookShutdown {
				break
			}
		}

		out, err := e.stream.Transformer().Transform(ctx, record)
		if err != nil {
			return false, err
		}
		if out == nil {
			continue
		}
		if e.logRecordData() {
			e.notifier.Notify(entity.NotifyLevelDebug, "Record transformed into: %s", out.String())
		}
		bytesIngested += int64(len(out.Data))
		transformed = append(transformed, out)
	}

	if len(transformed) == 0 {
		return hookShutdown, nil
	}

	if err := e.loadToSink(ctx, transformed); err != nil {
		return false, err
	}
	atomic.AddInt64(&e.metrics.BytesIngested, bytesIngested)
	e.trackBookmark(transformed)
	return hookShutdown, nil
}

func (e *Executor) loadToSink(ctx context.Context, records []*entity.Record) error {

	var (
		err       error
		retryable bool
		attempt   int
	)
	backoff := e.config.InitialRetryBackoff

	for ; attempt <= e.config.MaxLoadRetries; attempt++ {

		startTime := time.Now()
		_, err, retryable = e.stream.Loader().StreamLoad(ctx, records)

		if err == nil {
			atomic.AddInt64(&e.metrics.RecordsStoredInSink, int64(len(records)))
			atomic.AddInt64(&e.metrics.SinkProcessingTimeMicros, time.Since(startTime).Microseconds())
			atomic.AddInt64(&e.metrics.SinkOperations, 1)
			return nil
		}

		if e.shuttingDown(ctx, err) {
			return err
		}

		if !retryable || attempt >= e.config.MaxLoadRetries {
			break
		}

		e.notifier.Notify(entity.NotifyLevelWarn, "StreamLoad() failed with error: %v, issuing retry attempt #%d, in %v", err, attempt+1, backoff)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, e.config.MaxRetryInterval)
	}

	if retryable {
		e.notifier.Notify(entity.NotifyLevelError, "Giving up retrying load to sink for stream %s, after %d attempts", e.StreamId(), attempt+1)
	}
	return fmt.Errorf("could not load %d record(s) into sink: %w", len(records), err)
}

func (e *Executor) shuttingDown(ctx context.Context, err error) bool {
	if ctx.Err() == context.Canceled {
		e.notifier.Notify(entity.NotifyLevelInfo, "Context canceled during StreamLoad, err: %v", err)
		return true
	}

	if errors.Is(err, entity.ErrEntityShutdownRequested) {
		e.notifier.Notify(entity.NotifyLevelInfo, "Loader requested shutdown during StreamLoad")
		return true
	}
	return false
}

// Records are requested in ascending replication key order, but the maximum is tracked
// regardless, since not all edges honour the sort parameter.
func (e *Executor) trackBookmark(records []*entity.Record) {
	spec := e.stream.Spec()
	if !spec.HasReplicationKey() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, record := range records {
		if value, ok := record.Value(spec.ReplicationKey); ok && value > e.bookmark {
			e.bookmark = value
		}
	}
}

func (e *Executor) emitState(ctx context.Context, state *entity.State) error {
	if state == nil {
		return nil
	}
	if bookmark, ok := e.Bookmark(); ok {
		state.SetBookmark(e.StreamId(), bookmark)
	}
	if stateLoader, ok := e.stream.Loader().(entity.StateLoader); ok {
		if err := stateLoader.LoadState(ctx, state); err != nil {
			return fmt.Errorf("could not load state into sink: %w", err)
		}
	}
	return nil
}

// Shutdown stops an ongoing sync, or prevents a sync from starting.
func (e *Executor) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.shutdownInProgress = true
	cancel := e.cancel
	e.mu.Unlock()

	e.notifier.Notify(entity.NotifyLevelInfo, "Shutting down")
	if cancel != nil {
		cancel()
	}
	e.shutdownLoader(ctx)
}

func (e *Executor) shutdownLoader(ctx context.Context) {
	e.loaderShutdown.Do(func() {
		e.stream.Loader().Shutdown(ctx)
	})
}

func (e *Executor) logRecordData() bool {
	return e.config.LogRecordData
}
