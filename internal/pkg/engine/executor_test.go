package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/entity/transform"
	"github.com/zpiroux/tapfacebook/internal/pkg/etltest"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
)

var testSettings = &entity.Settings{
	AccountID:   "act_1234",
	AccessToken: "EAAB-token",
}

const (
	ad1 = `{"id":"1","name":"first","updated_time":"2023-01-02T10:00:00+0000"}`
	ad2 = `{"id":"2","name":"second","updated_time":"2023-01-03T10:00:00+0000"}`
	ad3 = `{"id":"3","name":"third","updated_time":"2023-01-01T10:00:00+0000"}`
)

func twoPageRequester() *etltest.MockRequester {
	return etltest.NewMockRequester().
		AddPage("", etltest.GraphPage("C1", ad1, ad2)).
		AddPage("C1", etltest.GraphPage("", ad3))
}

func newTestSource(t *testing.T, name string, opts graphapi.Options) *graphapi.Stream {
	def, err := graphapi.Definition(name)
	require.NoError(t, err)
	source, err := graphapi.NewStream(def, testSettings, opts)
	require.NoError(t, err)
	return source
}

func newTestExecutor(t *testing.T, requester entity.Requester, loader entity.Loader, config Config) *Executor {
	source := newTestSource(t, "ads", graphapi.Options{})
	if config.InitialRetryBackoff == 0 {
		config.InitialRetryBackoff = time.Millisecond
	}
	stream := NewStream("test", source, requester, transform.NewTransformer(source.Spec(), nil), loader)
	executor := NewExecutor(config, stream)
	require.NotNil(t, executor)
	return executor
}

func TestExecutorTwoPageSync(t *testing.T) {

	requester := twoPageRequester()
	loader := etltest.NewMockLoader()
	executor := newTestExecutor(t, requester, loader, Config{})
	assert.Equal(t, SyncStateAwaitingFirstPage, executor.State())

	state := entity.NewState()
	err := executor.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, SyncStateExhausted, executor.State())
	assert.Equal(t, []string{ad1, ad2, ad3}, loader.Data())
	assert.Equal(t, 2, loader.NbCalls())

	require.Equal(t, 2, requester.NbRequests())
	_, hasAfter := requester.Requests[0]["after"]
	assert.False(t, hasAfter)
	assert.Equal(t, "C1", requester.Requests[1].Get("after"))
	for _, params := range requester.Requests {
		assert.Equal(t, "25", params.Get("limit"))
		assert.Equal(t, "asc", params.Get("sort"))
		assert.Equal(t, "updated_time", params.Get("order_by"))
	}

	metrics := executor.Metrics()
	assert.Equal(t, int64(2), metrics.Requests)
	assert.Equal(t, int64(2), metrics.Pages)
	assert.Equal(t, int64(3), metrics.RecordsProcessed)
	assert.Equal(t, int64(3), metrics.RecordsStoredInSink)
	assert.Equal(t, int64(2), metrics.SinkOperations)
	assert.Equal(t, int64(len(ad1)+len(ad2)+len(ad3)), metrics.BytesIngested)

	bookmark, ok := state.Bookmark("ads")
	require.True(t, ok)
	assert.Equal(t, entity.Bookmark{ReplicationKey: "updated_time", ReplicationKeyValue: "2023-01-03T10:00:00+0000"}, bookmark)
	require.Len(t, loader.States, 1)
	assert.Equal(t, "2023-01-03T10:00:00+0000", gjson.GetBytes(loader.States[0], "bookmarks.ads.replication_key_value").String())
	assert.Equal(t, 1, loader.ShutdownCalls)

	// Executors are single use
	assert.True(t, errors.Is(executor.Run(context.Background(), state), ErrAlreadyRun))
}

// Same scenario as above but over HTTP with the real Graph API client
func TestExecutorTwoPageSyncOverHTTP(t *testing.T) {

	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		assert.Equal(t, "/v16.0/act_1234/ads", r.URL.Path)
		assert.Equal(t, "Bearer EAAB-token", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("after") {
		case "":
			w.Write(etltest.GraphPage("C1", `{"id":1}`, `{"id":2}`))
		case "C1":
			w.Write(etltest.GraphPage("", `{"id":3}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	source := newTestSource(t, "ads", graphapi.Options{BaseURL: server.URL})
	loader := etltest.NewMockLoader()
	stream := NewStream("http", source, graphapi.NewClient("http", server.Client(), 0), transform.NewTransformer(source.Spec(), nil), loader)
	executor := NewExecutor(Config{}, stream)
	require.NotNil(t, executor)

	err := executor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}, loader.Data())
	assert.Len(t, requests, 2)
}

func TestExecutorFetchRetries(t *testing.T) {

	transient := errors.New("transient")

	// Recovers within the retry limit
	requester := twoPageRequester().FailNext(transient, true).FailNext(transient, true)
	loader := etltest.NewMockLoader()
	executor := newTestExecutor(t, requester, loader, Config{MaxRequestRetries: 2})
	err := executor.Run(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 4, requester.NbRequests())
	assert.Len(t, loader.Records, 3)
	assert.Equal(t, int64(4), executor.Metrics().Requests)
	assert.Equal(t, int64(2), executor.Metrics().Pages)

	// Retries exhausted
	requester = twoPageRequester().FailNext(transient, true).FailNext(transient, true)
	loader = etltest.NewMockLoader()
	executor = newTestExecutor(t, requester, loader, Config{MaxRequestRetries: 1})
	err = executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, transient))
	assert.Equal(t, SyncStateFailed, executor.State())
	assert.Equal(t, 2, requester.NbRequests())
	assert.Empty(t, loader.Records)

	// Unretryable errors abort immediately
	requester = twoPageRequester().FailNext(graphapi.ErrAccessTokenExpired, false)
	executor = newTestExecutor(t, requester, etltest.NewMockLoader(), Config{MaxRequestRetries: 5})
	err = executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, graphapi.ErrAccessTokenExpired))
	assert.Equal(t, 1, requester.NbRequests())
}

func TestExecutorFailsOnSecondPage(t *testing.T) {

	requester := etltest.NewMockRequester().
		AddPage("", etltest.GraphPage("C1", ad1)).
		AddPage("C1", []byte(`{"data":[{"id":"2"},`))
	loader := etltest.NewMockLoader()
	executor := newTestExecutor(t, requester, loader, Config{})

	state := entity.NewState()
	err := executor.Run(context.Background(), state)
	assert.True(t, errors.Is(err, graphapi.ErrMalformedResponse))
	assert.Equal(t, SyncStateFailed, executor.State())

	// First page was already loaded, but no state is emitted for a failed stream
	assert.Equal(t, []string{ad1}, loader.Data())
	_, ok := state.Bookmark("ads")
	assert.False(t, ok)
	assert.Empty(t, loader.States)
}

func TestExecutorPaginationLoop(t *testing.T) {

	requester := etltest.NewMockRequester().
		AddPage("", etltest.GraphPage("C1", ad1)).
		AddPage("C1", etltest.GraphPage("C1", ad2))
	executor := newTestExecutor(t, requester, etltest.NewMockLoader(), Config{})

	err := executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrPaginationLoop))
	assert.Equal(t, 2, requester.NbRequests())
}

func TestExecutorEmptyPage(t *testing.T) {

	requester := etltest.NewMockRequester().AddPage("", etltest.GraphPage(""))
	loader := etltest.NewMockLoader()
	executor := newTestExecutor(t, requester, loader, Config{})

	state := entity.NewState()
	err := executor.Run(context.Background(), state)
	assert.NoError(t, err)
	assert.Equal(t, 0, loader.NbCalls())
	_, ok := state.Bookmark("ads")
	assert.False(t, ok)
	assert.Len(t, loader.States, 1)
}

func TestExecutorLoadRetries(t *testing.T) {

	loader := etltest.NewMockLoader()
	loader.FailFirst = 2
	loader.Retryable = true
	executor := newTestExecutor(t, twoPageRequester(), loader, Config{MaxLoadRetries: 2})
	err := executor.Run(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 4, loader.NbCalls())
	assert.Len(t, loader.Records, 3)
	assert.Equal(t, int64(2), executor.Metrics().SinkOperations)

	loader = etltest.NewMockLoader()
	loader.FailFirst = 1
	executor = newTestExecutor(t, twoPageRequester(), loader, Config{MaxLoadRetries: 2})
	err = executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, etltest.ErrMockLoad))
	assert.Equal(t, 1, loader.NbCalls())

	loader = etltest.NewMockLoader()
	loader.FailFirst = 1
	loader.Err = entity.ErrEntityShutdownRequested
	loader.Retryable = true
	executor = newTestExecutor(t, twoPageRequester(), loader, Config{MaxLoadRetries: 2})
	err = executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, entity.ErrEntityShutdownRequested))
	assert.Equal(t, 1, loader.NbCalls())
}

func TestExecutorHookLogic(t *testing.T) {

	hook := func(action map[string]entity.HookAction) entity.RecordHookFunc {
		return func(ctx context.Context, spec *entity.StreamSpec, record *[]byte) entity.HookAction {
			id := gjson.GetBytes(*record, "id").String()
			if a, ok := action[id]; ok {
				return a
			}
			*record, _ = sjson.SetBytes(*record, "account", spec.Name)
			return entity.HookActionProceed
		}
	}

	// Skip and enrich
	loader := etltest.NewMockLoader()
	executor := newTestExecutor(t, twoPageRequester(), loader, Config{
		RecordHookFunc: hook(map[string]entity.HookAction{"2": entity.HookActionSkip}),
	})
	err := executor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, loader.Records, 2)
	assert.Equal(t, "1", gjson.GetBytes(loader.Records[0].Data, "id").String())
	assert.Equal(t, "ads", gjson.GetBytes(loader.Records[0].Data, "account").String())
	assert.Equal(t, "3", gjson.GetBytes(loader.Records[1].Data, "id").String())
	assert.Equal(t, int64(3), executor.Metrics().RecordsProcessed)

	// Shutdown ends the sync without error, after loading what was processed
	requester := twoPageRequester()
	loader = etltest.NewMockLoader()
	executor = newTestExecutor(t, requester, loader, Config{
		RecordHookFunc: hook(map[string]entity.HookAction{"2": entity.HookActionShutdown}),
	})
	err = executor.Run(context.Background(), nil)
	assert.NoError(t, err)
	assert.Len(t, loader.Records, 1)
	assert.Equal(t, 1, requester.NbRequests())

	// Unretryable error
	executor = newTestExecutor(t, twoPageRequester(), etltest.NewMockLoader(), Config{
		RecordHookFunc: hook(map[string]entity.HookAction{"3": entity.HookActionUnretryableError}),
	})
	err = executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrHookUnretryableError))

	// Invalid action
	executor = newTestExecutor(t, twoPageRequester(), etltest.NewMockLoader(), Config{
		RecordHookFunc: hook(map[string]entity.HookAction{"1": entity.HookActionInvalid}),
	})
	err = executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrHookInvalidAction))
}

func TestExecutorDeselectedProperties(t *testing.T) {

	source := newTestSource(t, "ads", graphapi.Options{})
	loader := etltest.NewMockLoader()
	transformer := transform.NewTransformer(source.Spec(), []string{"name", "updated_time"})
	executor := NewExecutor(Config{}, NewStream("test", source, twoPageRequester(), transformer, loader))
	require.NotNil(t, executor)

	state := entity.NewState()
	require.NoError(t, executor.Run(context.Background(), state))
	require.Len(t, loader.Records, 3)
	for _, record := range loader.Records {
		assert.False(t, gjson.GetBytes(record.Data, "name").Exists())
		assert.True(t, gjson.GetBytes(record.Data, "updated_time").Exists())
	}
	_, ok := state.Bookmark("ads")
	assert.True(t, ok)
}

type panickingLoader struct {
	etltest.MockLoader
}

func (p *panickingLoader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {
	panic("sink went bananas")
}

func TestExecutorPanicRecovery(t *testing.T) {
	loader := &panickingLoader{}
	executor := newTestExecutor(t, twoPageRequester(), loader, Config{})
	err := executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrExecutorPanic))
	assert.Equal(t, SyncStateFailed, executor.State())
	assert.Equal(t, 1, loader.ShutdownCalls)
}

func TestExecutorShutdown(t *testing.T) {

	loader := etltest.NewMockLoader()
	executor := newTestExecutor(t, twoPageRequester(), loader, Config{})
	executor.Shutdown(context.Background())
	err := executor.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, entity.ErrEntityShutdownRequested))
	assert.Equal(t, 1, loader.ShutdownCalls)

	// Canceled during retry backoff
	requester := twoPageRequester().FailNext(errors.New("transient"), true)
	executor = newTestExecutor(t, requester, etltest.NewMockLoader(), Config{
		MaxRequestRetries:   3,
		InitialRetryBackoff: time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err = executor.Run(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewExecutorInvalidStream(t *testing.T) {
	assert.Nil(t, NewExecutor(Config{}, nil))
	source := newTestSource(t, "ads", graphapi.Options{})
	assert.Nil(t, NewExecutor(Config{}, NewStream("x", source, nil, nil, nil)))
}

func TestSyncStateString(t *testing.T) {
	assert.Equal(t, "AwaitingFirstPage", SyncStateAwaitingFirstPage.String())
	assert.Equal(t, "HasNextPage", SyncStateHasNextPage.String())
	assert.Equal(t, "SyncState(42)", SyncState(42).String())
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(45*time.Second, time.Minute))
}
