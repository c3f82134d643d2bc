package graphapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	DefaultBaseURL        = "https://graph.facebook.com"
	DefaultRequestTimeout = 60 * time.Second
	userAgent             = "tap-facebook"
)

var log *logger.Log

func init() {
	log = logging.New()
}

// Client issues the GET requests of the streams. It implements entity.Requester.
type Client struct {
	id         string
	httpClient *http.Client
	logBodies  bool
}

// NewClient creates a client using httpClient, or a default client with the provided
// timeout if nil.
func NewClient(id string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		id:         id,
		httpClient: httpClient,
	}
}

// SetLogBodies enables debug logging of all response bodies.
func (c *Client) SetLogBodies(enabled bool) {
	c.logBodies = enabled
}

// Get fetches rawURL with params. Transport failures and throttling/server errors are
// reported as retryable, other non-2xx responses as unretryable APIErrors.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, auth entity.Authenticator) (*entity.Response, error, bool) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request for %s: %w", rawURL, err), false
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if auth != nil {
		if err := auth.Authenticate(req); err != nil {
			return nil, err, false
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err(), false
		}
		return nil, fmt.Errorf("%w, details: %v", ErrTransport, err), true
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w, details: could not read response body, %v", ErrTransport, err), true
	}

	// The query part is left out since it might be long and never contains credentials
	// worth logging anyway.
	requestURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	if c.logBodies {
		log.Debugf(c.lgprfx()+"GET %s?%s returned %d, body: %s", requestURL, req.URL.RawQuery, resp.StatusCode, string(body))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, body)
		return nil, apiErr, apiErr.Retryable()
	}

	return &entity.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RequestURL: requestURL,
	}, nil, false
}

func (c *Client) lgprfx() string {
	return "[graphapi.client:" + c.id + "] "
}
