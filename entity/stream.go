package entity

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// PaginatedJSONStream is the capability every extractable Graph API entity type provides.
// The sync loop in the engine drives it, one page at a time:
//
//	params := s.RequestParams(token)
//	resp := GET s.URL() with params, decorated by s.Authenticator()
//	records := s.ExtractRecords(resp)
//	token = s.NextToken(resp, token)   // NoPageToken ends the loop
type PaginatedJSONStream interface {

	// Spec returns the static description of the stream (name, keys, schema, etc).
	Spec() *StreamSpec

	// URL returns the absolute endpoint URL, without query parameters.
	URL() string

	// Authenticator returns the request decorator to apply on each outgoing request.
	Authenticator() Authenticator

	// NextToken extracts the cursor for the next page from an already received response.
	// NoPageToken is the sole termination signal of the page loop.
	NextToken(resp *Response, previous PageToken) (PageToken, error)

	// RequestParams returns the query parameters for the request fetching the page
	// identified by token (NoPageToken for the first page).
	RequestParams(token PageToken) url.Values

	// ExtractRecords returns the records contained in the response, in document order.
	// A body which cannot be parsed gives an error.
	ExtractRecords(resp *Response) (*RecordIterator, error)
}

// Authenticator decorates outgoing requests with credentials.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// Requester performs a single GET towards the source API. The bool return value
// tells if the error is regarded as retryable.
type Requester interface {
	Get(ctx context.Context, rawURL string, params url.Values, auth Authenticator) (*Response, error, bool)
}

// PageToken is an opaque pagination cursor, produced by the previous response and
// consumed by the next request.
type PageToken string

// NoPageToken denotes that there are no further pages.
const NoPageToken PageToken = ""

func (t PageToken) IsNone() bool {
	return t == NoPageToken
}

func (t PageToken) String() string {
	if t.IsNone() {
		return "<none>"
	}
	return string(t)
}

// Response is a received HTTP response with its body fully read, so that it can be
// inspected for both records and pagination cursors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestURL string
}

// RecordIterator is a lazy, finite and non-restartable sequence of records from a
// single response.
//
//	for it.Next() {
//		rec := it.Record()
//	}
type RecordIterator struct {
	stream      string
	extractedAt time.Time
	next        func() ([]byte, bool)
	current     *Record
	done        bool
}

// NewRecordIterator creates an iterator pulling raw record data from next until it
// returns false.
func NewRecordIterator(stream string, extractedAt time.Time, next func() ([]byte, bool)) *RecordIterator {
	return &RecordIterator{
		stream:      stream,
		extractedAt: extractedAt,
		next:        next,
	}
}

// Next advances to the next record, returning false when the sequence is exhausted.
func (it *RecordIterator) Next() bool {
	if it.done || it.next == nil {
		return false
	}
	data, ok := it.next()
	if !ok {
		it.done = true
		it.current = nil
		return false
	}
	it.current = &Record{
		Stream:      it.stream,
		Data:        data,
		ExtractedAt: it.extractedAt,
	}
	return true
}

// Record returns the record at the current position, or nil if Next has not been
// called or returned false.
func (it *RecordIterator) Record() *Record {
	return it.current
}

// All drains the iterator.
func (it *RecordIterator) All() []*Record {
	var records []*Record
	for it.Next() {
		records = append(records, it.Record())
	}
	return records
}
