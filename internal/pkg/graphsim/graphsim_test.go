package graphsim

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func get(t *testing.T, ts *httptest.Server, path string, params url.Values, token string) (int, []byte) {
	req, err := http.NewRequest(http.MethodGet, ts.URL+path+"?"+params.Encode(), nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestPaging(t *testing.T) {

	sim := New(Config{EntityCounts: map[string]int{"ads": 5}, AccessToken: "tok"})
	ts := httptest.NewServer(sim)
	defer ts.Close()

	var (
		ids    []string
		after  string
		nbPage int
	)
	for {
		params := url.Values{"limit": {"2"}}
		if after != "" {
			params.Set("after", after)
		}
		status, body := get(t, ts, "/v16.0/act_123/ads", params, "tok")
		require.Equal(t, http.StatusOK, status)
		nbPage++

		for _, id := range gjson.GetBytes(body, "data.#.id").Array() {
			ids = append(ids, id.String())
		}
		after = gjson.GetBytes(body, "paging.cursors.after").String()
		if after == "" {
			break
		}
		require.Less(t, nbPage, 10)
	}

	// 3 pages with data and a final empty page without cursors
	assert.Equal(t, 4, nbPage)
	assert.Equal(t, 4, sim.Requests("ads"))
	require.Len(t, ids, 5)
	for i, e := range sim.Entities("ads") {
		assert.Equal(t, gjson.GetBytes(e, "id").String(), ids[i])
	}
}

func TestNextLink(t *testing.T) {
	ts := httptest.NewServer(New(Config{EntityCounts: map[string]int{"campaigns": 3}}))
	defer ts.Close()

	_, body := get(t, ts, "/v16.0/act_1/campaigns", url.Values{"limit": {"2"}}, "")
	assert.True(t, gjson.GetBytes(body, "paging.next").Exists())

	after := gjson.GetBytes(body, "paging.cursors.after").String()
	_, body = get(t, ts, "/v16.0/act_1/campaigns", url.Values{"limit": {"2"}, "after": {after}}, "")
	assert.Len(t, gjson.GetBytes(body, "data").Array(), 1)
	assert.False(t, gjson.GetBytes(body, "paging.next").Exists())
	assert.True(t, gjson.GetBytes(body, "paging.cursors.after").Exists())
}

func TestFields(t *testing.T) {
	ts := httptest.NewServer(New(Config{}))
	defer ts.Close()

	_, body := get(t, ts, "/v16.0/act_1/ads", url.Values{"fields": {"id,updated_time,bid_amount"}}, "")
	data := gjson.GetBytes(body, "data").Array()
	require.Len(t, data, DefaultLimit)
	assert.True(t, data[0].Get("id").Exists())
	assert.True(t, data[0].Get("updated_time").Exists())
	assert.False(t, data[0].Get("name").Exists())
	assert.False(t, data[0].Get("bid_amount").Exists())

	first, err := time.Parse(timestampLayout, data[0].Get("updated_time").String())
	require.NoError(t, err)
	last, err := time.Parse(timestampLayout, data[len(data)-1].Get("updated_time").String())
	require.NoError(t, err)
	assert.True(t, last.After(first))
}

func TestInsights(t *testing.T) {
	ts := httptest.NewServer(New(Config{EntityCounts: map[string]int{"insights": 2}}))
	defer ts.Close()

	_, body := get(t, ts, "/v16.0/act_1/insights", url.Values{}, "")
	data := gjson.GetBytes(body, "data").Array()
	require.Len(t, data, 2)
	assert.Equal(t, "2023-01-01", data[0].Get("date_start").String())
	assert.Equal(t, "2023-01-02", data[1].Get("date_start").String())
	assert.True(t, data[0].Get("ad_id").Exists())
}

func TestAccount(t *testing.T) {
	ts := httptest.NewServer(New(Config{}))
	defer ts.Close()

	status, body := get(t, ts, "/v16.0/act_42", url.Values{"fields": {"id,name"}}, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "act_42", gjson.GetBytes(body, "id").String())
	assert.Equal(t, "Simulated ad account 42", gjson.GetBytes(body, "name").String())
	assert.False(t, gjson.GetBytes(body, "currency").Exists())
}

func TestErrors(t *testing.T) {

	sim := New(Config{AccessToken: "tok"})
	ts := httptest.NewServer(sim)
	defer ts.Close()

	status, body := get(t, ts, "/v16.0/act_1/ads", url.Values{}, "wrong")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int64(CodeAccessTokenExpired), gjson.GetBytes(body, "error.code").Int())
	assert.Equal(t, "OAuthException", gjson.GetBytes(body, "error.type").String())

	status, _ = get(t, ts, "/v16.0/act_1/ads", url.Values{"after": {"!!"}}, "tok")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, ts, "/v16.0/act_1/ads", url.Values{"limit": {"0"}}, "tok")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, ts, "/v16.0/1/ads", url.Values{}, "tok")
	assert.Equal(t, http.StatusNotFound, status)

	sim.InjectError("ads", http.StatusServiceUnavailable, CodeService, 2)
	status, body = get(t, ts, "/v16.0/act_1/ads", url.Values{}, "tok")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, int64(CodeService), gjson.GetBytes(body, "error.code").Int())
	status, _ = get(t, ts, "/v16.0/act_1/campaigns", url.Values{}, "tok")
	assert.Equal(t, http.StatusOK, status)
	status, _ = get(t, ts, "/v16.0/act_1/ads", url.Values{}, "tok")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = get(t, ts, "/v16.0/act_1/ads", url.Values{}, "tok")
	assert.Equal(t, http.StatusOK, status)
}

func TestParsePath(t *testing.T) {
	account, edge, ok := parsePath("/v16.0/act_123/adsets")
	assert.True(t, ok)
	assert.Equal(t, "123", account)
	assert.Equal(t, "adsets", edge)

	account, edge, ok = parsePath("/v16.0/act_123")
	assert.True(t, ok)
	assert.Equal(t, "123", account)
	assert.Equal(t, "", edge)

	for _, p := range []string{"/", "/act_1/ads", "/v16.0/act_/ads", "/v16.0/act_1/ads/x"} {
		_, _, ok = parsePath(p)
		assert.False(t, ok, p)
	}
}

func TestCursor(t *testing.T) {
	offset, err := decodeCursor(encodeCursor(25))
	require.NoError(t, err)
	assert.Equal(t, 25, offset)
	_, err = decodeCursor(encodeCursor(-1))
	assert.Error(t, err)
}
