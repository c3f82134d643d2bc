package etltest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/zpiroux/tapfacebook/entity"
)

// MockRequester serves pre-built Graph API pages keyed by the value of the "after"
// query parameter, with "" for the first page. All issued requests are recorded.
type MockRequester struct {
	mu       sync.Mutex
	pages    map[string]*entity.Response
	failures []MockFailure
	Requests []url.Values
}

// MockFailure is returned instead of a page for one request.
type MockFailure struct {
	Err       error
	Retryable bool
}

func NewMockRequester() *MockRequester {
	return &MockRequester{pages: make(map[string]*entity.Response)}
}

// AddPage registers body as the response to a request with the provided cursor.
func (r *MockRequester) AddPage(after string, body []byte) *MockRequester {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[after] = &entity.Response{StatusCode: 200, Body: body}
	return r
}

// FailNext makes the next request(s) fail, in the order added.
func (r *MockRequester) FailNext(err error, retryable bool) *MockRequester {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, MockFailure{Err: err, Retryable: retryable})
	return r
}

func (r *MockRequester) Get(ctx context.Context, rawURL string, params url.Values, auth entity.Authenticator) (*entity.Response, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Requests = append(r.Requests, params)
	if err := ctx.Err(); err != nil {
		return nil, err, false
	}
	if len(r.failures) > 0 {
		f := r.failures[0]
		r.failures = r.failures[1:]
		return nil, f.Err, f.Retryable
	}
	resp, ok := r.pages[params.Get("after")]
	if !ok {
		return nil, fmt.Errorf("no page registered for %s with after=%q", rawURL, params.Get("after")), false
	}
	resp.RequestURL = rawURL
	return resp, nil, false
}

func (r *MockRequester) NbRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Requests)
}
