package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/assembly"
	"github.com/zpiroux/tapfacebook/internal/pkg/catalog"
	"github.com/zpiroux/tapfacebook/internal/pkg/engine"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/singer"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/void"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphsim"
)

const accessToken = "myCoolAccessToken"

func newConfig(baseURL string, httpClient *http.Client, lf entity.LoaderFactory) Config {
	return Config{
		RunId: "run-1",
		Engine: engine.Config{
			MaxRequestRetries: 1,
			MaxLoadRetries:    1,
		},
		Entity: assembly.Config{
			Settings:   &entity.Settings{AccountID: "act_42", AccessToken: accessToken},
			Loaders:    entity.LoaderFactories{lf.SinkId(): lf},
			SinkId:     lf.SinkId(),
			HTTPClient: httpClient,
			BaseURL:    baseURL,
		},
	}
}

func TestServiceConfigLogging(t *testing.T) {
	s, err := New(context.Background(), newConfig("", nil, void.NewLoaderFactory()))
	require.NoError(t, err)

	status := s.String()
	assert.True(t, strings.Contains(status, "act_42"))
	assert.False(t, strings.Contains(status, accessToken))
}

func TestInitServiceConfig(t *testing.T) {
	ctx := context.Background()

	c := newConfig("", nil, void.NewLoaderFactory())
	c.Entity.Settings = nil
	_, err := New(ctx, c)
	assert.True(t, errors.Is(err, entity.ErrInvalidSettings))

	c = newConfig("", nil, void.NewLoaderFactory())
	c.Entity.Settings.AccessToken = ""
	_, err = New(ctx, c)
	assert.True(t, errors.Is(err, entity.ErrInvalidSettings))

	c = newConfig("", nil, void.NewLoaderFactory())
	c.Entity.SinkId = "bigquery"
	_, err = New(ctx, c)
	assert.Error(t, err)

	s, err := New(ctx, newConfig("", nil, void.NewLoaderFactory()))
	require.NoError(t, err)
	assert.Len(t, s.Specs(), 11)
	assert.Nil(t, s.Streams())
	assert.True(t, errors.Is(s.Run(ctx, entity.NewState()), ErrNotInitialized))
}

func TestServiceRun(t *testing.T) {

	ctx := context.Background()
	sim := graphsim.New(graphsim.Config{AccessToken: accessToken, EntityCount: 3})
	ts := httptest.NewServer(sim)
	defer ts.Close()

	var out bytes.Buffer
	s, err := New(ctx, newConfig(ts.URL, ts.Client(), singer.NewLoaderFactory(&out)))
	require.NoError(t, err)

	cat := s.Discover()
	deselectStreams(cat, "adsets", "adsinsights", "creatives", "adlabels", "adaccounts",
		"customconversions", "customaudiences", "adimages", "advideos")

	require.NoError(t, s.Init(ctx, cat))
	assert.Equal(t, []string{"ads", "campaigns"}, s.Streams())

	state := entity.NewState()
	require.NoError(t, s.Run(ctx, state))

	assert.Equal(t, int64(3), s.Metrics()["ads"].RecordsStoredInSink)
	assert.Equal(t, int64(3), s.Metrics()["campaigns"].RecordsStoredInSink)
	_, ok := state.Bookmark("ads")
	assert.True(t, ok)
	assert.Equal(t, 2, strings.Count(out.String(), `"type":"STATE"`))

	executor, err := s.Executor("ads")
	require.NoError(t, err)
	assert.Equal(t, "ads", executor.StreamId())

	s.Shutdown(ctx, nil)
}

func TestServiceRunWithFailingStream(t *testing.T) {

	ctx := context.Background()
	sim := graphsim.New(graphsim.Config{AccessToken: accessToken, EntityCount: 3})
	sim.InjectError("ads", http.StatusBadRequest, graphsim.CodeInvalidParameter, 1)
	ts := httptest.NewServer(sim)
	defer ts.Close()

	s, err := New(ctx, newConfig(ts.URL, ts.Client(), void.NewLoaderFactory()))
	require.NoError(t, err)
	cat := s.Discover()
	deselectStreams(cat, "adsets", "adsinsights", "creatives", "adlabels", "adaccounts",
		"customconversions", "customaudiences", "adimages", "advideos")
	require.NoError(t, s.Init(ctx, cat))

	state := entity.NewState()
	err = s.Run(ctx, state)
	var syncErr *engine.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Len(t, syncErr.Failed, 1)
	assert.Contains(t, syncErr.Failed, "ads")

	_, ok := state.Bookmark("ads")
	assert.False(t, ok)
	_, ok = state.Bookmark("campaigns")
	assert.True(t, ok)
}

func TestCheck(t *testing.T) {

	ctx := context.Background()
	sim := graphsim.New(graphsim.Config{AccessToken: accessToken})
	ts := httptest.NewServer(sim)
	defer ts.Close()

	s, err := New(ctx, newConfig(ts.URL, ts.Client(), void.NewLoaderFactory()))
	require.NoError(t, err)
	assert.NoError(t, s.Check(ctx))

	c := newConfig(ts.URL, ts.Client(), void.NewLoaderFactory())
	c.Entity.Settings.AccessToken = "expired"
	s, err = New(ctx, c)
	require.NoError(t, err)
	err = s.Check(ctx)
	assert.True(t, errors.Is(err, graphapi.ErrAccessTokenExpired))
}

func deselectStreams(c *catalog.Catalog, streams ...string) {
	deselected := false
	for _, name := range streams {
		e, _ := c.Entry(name)
		for i, m := range e.Metadata {
			if len(m.Breadcrumb) == 0 {
				e.Metadata[i].Metadata.Selected = &deselected
			}
		}
	}
}
