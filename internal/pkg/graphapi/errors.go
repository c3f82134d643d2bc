package graphapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformedResponse  = errors.New("malformed JSON response body")
	ErrTransport          = errors.New("graph api transport failure")
	ErrAccessTokenExpired = errors.New("access token expired or invalidated")
	ErrInvalidJSONPath    = errors.New("invalid JSON path expression")
	ErrUnknownStream      = errors.New("unknown stream")
)

// Graph API error codes, see https://developers.facebook.com/docs/graph-api/guides/error-handling
const (
	codeUnknown            = 1
	codeService            = 2
	codeAppRateLimit       = 4
	codeUserRateLimit      = 17
	codePageRateLimit      = 32
	codeAppLimitReached    = 341
	codeAccessTokenExpired = 190
	codeCallRateLimit      = 613
	codeAdsThrottleFirst   = 80000
	codeAdsThrottleLast    = 80014
)

// APIError is a non-successful Graph API response.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
	Transient  bool
}

func newAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode}
	if gjson.ValidBytes(body) {
		details := gjson.GetBytes(body, "error")
		e.Code = int(details.Get("code").Int())
		e.Subcode = int(details.Get("error_subcode").Int())
		e.Type = details.Get("type").String()
		e.Message = details.Get("message").String()
		e.TraceID = details.Get("fbtrace_id").String()
		e.Transient = details.Get("is_transient").Bool()
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error, status: %d, code: %d, subcode: %d, type: %s, message: %s, fbtrace_id: %s",
		e.StatusCode, e.Code, e.Subcode, e.Type, e.Message, e.TraceID)
}

// Unwrap enables errors.Is(err, ErrAccessTokenExpired).
func (e *APIError) Unwrap() error {
	if e.Code == codeAccessTokenExpired {
		return ErrAccessTokenExpired
	}
	return nil
}

// Retryable tells if the request might succeed if issued again, i.e. server side failures
// and throttling.
func (e *APIError) Retryable() bool {
	if e.Code == codeAccessTokenExpired {
		return false
	}
	if e.Transient || e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	switch e.Code {
	case codeUnknown, codeService, codeAppRateLimit, codeUserRateLimit, codePageRateLimit, codeAppLimitReached, codeCallRateLimit:
		return true
	}
	return e.Code >= codeAdsThrottleFirst && e.Code <= codeAdsThrottleLast
}
