package graphapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/zpiroux/tapfacebook/entity"
)

const (
	// PageSize is the number of records requested per page.
	PageSize = 25

	RecordsPath       = "$.data[*]"
	NextPageTokenPath = "$.paging.cursors.after"

	// NextPageHeader is where the cursor is read from for streams without a token path.
	NextPageHeader = "X-Next-Page"

	paramLimit   = "limit"
	paramAfter   = "after"
	paramSort    = "sort"
	paramOrderBy = "order_by"
	paramFields  = "fields"
	sortAsc      = "asc"
)

var baseParams = map[string]bool{
	paramLimit:   true,
	paramAfter:   true,
	paramSort:    true,
	paramOrderBy: true,
}

// Options customizes stream creation. The zero value gives production behavior.
type Options struct {
	// BaseURL overrides DefaultBaseURL, e.g. for a simulated Graph API.
	BaseURL string

	// Now is used for date defaults. Defaults to time.Now.
	Now func() time.Time
}

// Stream implements entity.PaginatedJSONStream for a Graph API edge of an ad account.
type Stream struct {
	spec        *entity.StreamSpec
	url         string
	auth        entity.Authenticator
	recordsPath *Path
	tokenPath   *Path
	extraParams url.Values
}

// NewStream creates the stream from its definition and the run settings, which must
// have been validated.
func NewStream(def StreamDefinition, settings *entity.Settings, opts Options) (*Stream, error) {

	if settings == nil {
		return nil, fmt.Errorf("no settings provided for stream %s", def.Name)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	spec, err := def.Spec()
	if err != nil {
		return nil, err
	}

	s := &Stream{
		spec: spec,
		url:  AccountURL(opts.BaseURL, settings) + spec.Path,
		auth: NewBearerTokenAuthenticator(settings.AccessToken),
	}

	if s.recordsPath, err = CompilePath(spec.RecordsPath); err != nil {
		return nil, err
	}
	if spec.NextPageTokenPath != "" {
		if s.tokenPath, err = CompilePath(spec.NextPageTokenPath); err != nil {
			return nil, err
		}
	}

	s.extraParams = url.Values{}
	if props := spec.Properties(); len(props) > 0 {
		s.extraParams.Set(paramFields, strings.Join(props, ","))
	}
	if def.Params != nil {
		params, err := def.Params(settings, opts.Now())
		if err != nil {
			return nil, fmt.Errorf("invalid settings for stream %s: %w", def.Name, err)
		}
		for k, v := range params {
			if baseParams[k] {
				return nil, fmt.Errorf("stream %s cannot override query parameter %s", def.Name, k)
			}
			s.extraParams[k] = v
		}
	}

	return s, nil
}

// AccountURL returns the root URL of the ad account, e.g.
// https://graph.facebook.com/v16.0/act_123.
func AccountURL(baseURL string, settings *entity.Settings) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + settings.Version() + "/act_" + settings.Account()
}

func (s *Stream) Spec() *entity.StreamSpec {
	return s.spec
}

func (s *Stream) URL() string {
	return s.url
}

func (s *Stream) Authenticator() entity.Authenticator {
	return s.auth
}

// NextToken returns the first match of the token path, or NoPageToken if there is none.
// A null or empty cursor value is regarded as no match. Without a token path the cursor
// is taken from the NextPageHeader response header.
func (s *Stream) NextToken(resp *entity.Response, previous entity.PageToken) (entity.PageToken, error) {

	if resp == nil {
		return entity.NoPageToken, nil
	}

	if s.tokenPath == nil {
		return entity.PageToken(resp.Header.Get(NextPageHeader)), nil
	}

	if !gjson.ValidBytes(resp.Body) {
		return entity.NoPageToken, fmt.Errorf("%w, stream: %s, url: %s", ErrMalformedResponse, s.spec.Name, resp.RequestURL)
	}

	match, ok := s.tokenPath.First(resp.Body)
	if !ok || match.Type == gjson.Null {
		return entity.NoPageToken, nil
	}
	return entity.PageToken(match.String()), nil
}

// RequestParams always sets the page size, adds the cursor when there is one, and asks
// for ascending order on the replication key when the stream declares one.
func (s *Stream) RequestParams(token entity.PageToken) url.Values {
	params := make(url.Values, len(s.extraParams)+4)
	for k, v := range s.extraParams {
		params[k] = append([]string(nil), v...)
	}

	params.Set(paramLimit, strconv.Itoa(PageSize))
	if !token.IsNone() {
		params.Set(paramAfter, string(token))
	}
	if s.spec.HasReplicationKey() {
		params.Set(paramSort, sortAsc)
		params.Set(paramOrderBy, s.spec.ReplicationKey)
	}
	return params
}

// ExtractRecords yields every match of the records path as one record, in document order.
func (s *Stream) ExtractRecords(resp *entity.Response) (*entity.RecordIterator, error) {

	if resp == nil || !gjson.ValidBytes(resp.Body) {
		var requestURL string
		if resp != nil {
			requestURL = resp.RequestURL
		}
		return nil, fmt.Errorf("%w, stream: %s, url: %s", ErrMalformedResponse, s.spec.Name, requestURL)
	}

	matches := s.recordsPath.Find(resp.Body)
	i := 0
	return entity.NewRecordIterator(s.spec.Name, time.Now().UTC(), func() ([]byte, bool) {
		if i >= len(matches) {
			return nil, false
		}
		raw := matches[i].Raw
		i++
		return []byte(raw), true
	}), nil
}
