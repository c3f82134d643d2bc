// Package graphsim provides a simulated Graph API serving generated ad account entities,
// using the same cursor based paging and error format as the real API. It is used for
// testing and for running the tap without access to a real ad account.
package graphsim

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teltech/logger"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	DefaultEntityCount = 60
	DefaultLimit       = 25
	MaxLimit           = 500

	// Graph API error codes used in simulated errors
	CodeInvalidParameter   = 100
	CodeAccessTokenExpired = 190
	CodeService            = 2

	timestampLayout = "2006-01-02T15:04:05-0700"
	dateLayout      = "2006-01-02"
	insightsEdge    = "insights"
)

var log *logger.Log

func init() {
	log = logging.New()
}

var statuses = []string{"ACTIVE", "ACTIVE", "ACTIVE", "PAUSED", "ARCHIVED"}

// Config specifies the simulated ad account.
type Config struct {
	// Entity count per edge, e.g. "ads". Edges not present get EntityCount.
	EntityCounts map[string]int

	// Defaults to DefaultEntityCount.
	EntityCount int

	// If set, requests need to carry it as bearer token.
	AccessToken string

	// Start of generated timestamps. Defaults to 2023-01-01.
	Start time.Time

	// Seed for the generated values, making runs reproducible.
	Seed int64
}

type failure struct {
	status  int
	code    int
	message string
	times   int
}

// Server is an http.Handler serving /{version}/act_{id} and /{version}/act_{id}/{edge}.
type Server struct {
	config Config

	mu       sync.Mutex
	rnd      *rand.Rand
	entities map[string][][]byte
	failures map[string]*failure
	requests map[string]int
}

func New(config Config) *Server {
	if config.EntityCount <= 0 {
		config.EntityCount = DefaultEntityCount
	}
	if config.Start.IsZero() {
		config.Start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Server{
		config:   config,
		rnd:      rand.New(rand.NewSource(config.Seed)),
		entities: make(map[string][][]byte),
		failures: make(map[string]*failure),
		requests: make(map[string]int),
	}
}

// InjectError makes the next 'times' requests to the edge fail with the provided HTTP
// status and Graph API error code. An empty edge applies to all requests.
func (s *Server) InjectError(edge string, status, code, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[edge] = &failure{
		status:  status,
		code:    code,
		message: fmt.Sprintf("simulated error (#%d)", code),
		times:   times,
	}
}

// Requests returns the number of requests received for the edge, including failed ones.
func (s *Server) Requests(edge string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[edge]
}

// Entities returns all generated entities of the edge, in the order they are served.
func (s *Server) Entities(edge string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeEntities(edge)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidParameter, "unsupported method "+r.Method)
		return
	}

	account, edge, ok := parsePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, CodeInvalidParameter, "unknown path components: "+r.URL.Path)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[edge]++
	log.Debugf("[graphsim] GET %s?%s", r.URL.Path, r.URL.RawQuery)

	if f := s.nextFailure(edge); f != nil {
		writeError(w, f.status, f.code, f.message)
		return
	}

	if s.config.AccessToken != "" && r.Header.Get("Authorization") != "Bearer "+s.config.AccessToken {
		writeError(w, http.StatusBadRequest, CodeAccessTokenExpired, "Error validating access token")
		return
	}

	fields := fieldList(r.URL.Query().Get("fields"))

	if edge == "" {
		s.writeAccount(w, account, fields)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, err.Error())
		return
	}
	offset, err := decodeCursor(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, err.Error())
		return
	}

	entities := s.edgeEntities(edge)
	if offset > len(entities) {
		offset = len(entities)
	}
	end := offset + limit
	if end > len(entities) {
		end = len(entities)
	}

	body := []byte(`{"data":[]}`)
	for _, e := range entities[offset:end] {
		body, _ = sjson.SetRawBytes(body, "data.-1", selectFields(e, fields))
	}
	if end > offset {
		body, _ = sjson.SetBytes(body, "paging.cursors.before", encodeCursor(offset))
		body, _ = sjson.SetBytes(body, "paging.cursors.after", encodeCursor(end))
		if end < len(entities) {
			q := r.URL.Query()
			q.Set("after", encodeCursor(end))
			body, _ = sjson.SetBytes(body, "paging.next", "http://"+r.Host+r.URL.Path+"?"+q.Encode())
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeAccount(w http.ResponseWriter, account string, fields []string) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "id", "act_"+account)
	body, _ = sjson.SetBytes(body, "account_id", account)
	body, _ = sjson.SetBytes(body, "name", "Simulated ad account "+account)
	body, _ = sjson.SetBytes(body, "currency", "EUR")
	writeJSON(w, http.StatusOK, selectFields(body, append(fields, "id")))
}

// nextFailure returns the injected failure for the edge, if any, and counts it down.
func (s *Server) nextFailure(edge string) *failure {
	for _, key := range []string{edge, ""} {
		f, ok := s.failures[key]
		if !ok {
			continue
		}
		f.times--
		if f.times <= 0 {
			delete(s.failures, key)
		}
		return f
	}
	return nil
}

func (s *Server) edgeEntities(edge string) [][]byte {
	if entities, ok := s.entities[edge]; ok {
		return entities
	}
	count, ok := s.config.EntityCounts[edge]
	if !ok {
		count = s.config.EntityCount
	}
	entities := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if edge == insightsEdge {
			entities = append(entities, s.createInsight(i))
		} else {
			entities = append(entities, s.createEntity(edge, i))
		}
	}
	s.entities[edge] = entities
	return entities
}

// Entities are generated with ascending updated_time, matching requests sorted
// ascending on it.
func (s *Server) createEntity(edge string, i int) []byte {
	created := s.config.Start.Add(time.Duration(i) * time.Hour)
	updated := created.Add(time.Duration(s.randInt(0, 59)) * time.Minute)

	var e []byte
	e, _ = sjson.SetBytes(e, "id", uuid.New().String())
	e, _ = sjson.SetBytes(e, "name", fmt.Sprintf("%s %d", strings.TrimSuffix(edge, "s"), i+1))
	e, _ = sjson.SetBytes(e, "status", statuses[s.rnd.Intn(len(statuses))])
	e, _ = sjson.SetBytes(e, "created_time", created.Format(timestampLayout))
	e, _ = sjson.SetBytes(e, "updated_time", updated.Format(timestampLayout))
	return e
}

func (s *Server) createInsight(i int) []byte {
	day := s.config.Start.AddDate(0, 0, i).Format(dateLayout)
	impressions := s.randInt(100, 10000)

	var e []byte
	e, _ = sjson.SetBytes(e, "ad_id", uuid.New().String())
	e, _ = sjson.SetBytes(e, "adset_id", uuid.New().String())
	e, _ = sjson.SetBytes(e, "campaign_id", uuid.New().String())
	e, _ = sjson.SetBytes(e, "date_start", day)
	e, _ = sjson.SetBytes(e, "date_stop", day)
	e, _ = sjson.SetBytes(e, "impressions", strconv.Itoa(impressions))
	e, _ = sjson.SetBytes(e, "clicks", strconv.Itoa(s.randInt(0, impressions/10)))
	e, _ = sjson.SetBytes(e, "spend", fmt.Sprintf("%.2f", s.rnd.Float64()*100))
	return e
}

// randInt creates a random int between min and max (including max)
func (s *Server) randInt(min, max int) int {
	return s.rnd.Intn(max+1-min) + min
}

// parsePath splits /{version}/act_{id}[/{edge}] into account ID and edge.
func parsePath(path string) (account, edge string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || !strings.HasPrefix(parts[0], "v") {
		return "", "", false
	}
	account = strings.TrimPrefix(parts[1], "act_")
	if account == parts[1] || account == "" {
		return "", "", false
	}
	if len(parts) == 3 {
		edge = parts[2]
	}
	return account, edge, true
}

func parseLimit(value string) (int, error) {
	if value == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit: %q", value)
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, nil
}

func fieldList(value string) []string {
	if value == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(value, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// selectFields returns the entity with only the requested fields, or all fields if none
// were requested. Fields the entity does not have are left out, as the Graph API does.
func selectFields(entity []byte, fields []string) []byte {
	if len(fields) == 0 {
		return entity
	}
	out := []byte(`{}`)
	for _, f := range fields {
		if v := gjson.GetBytes(entity, f); v.Exists() {
			out, _ = sjson.SetRawBytes(out, f, []byte(v.Raw))
		}
	}
	return out
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %q", cursor)
	}
	offset, err := strconv.Atoi(string(b))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid cursor: %q", cursor)
	}
	return offset, nil
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	body := []byte(`{"error":{}}`)
	body, _ = sjson.SetBytes(body, "error.message", message)
	errType := "GraphMethodException"
	if code == CodeAccessTokenExpired {
		errType = "OAuthException"
	}
	body, _ = sjson.SetBytes(body, "error.type", errType)
	body, _ = sjson.SetBytes(body, "error.code", code)
	body, _ = sjson.SetBytes(body, "error.fbtrace_id", uuid.New().String())
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Warnf("[graphsim] could not write response: %v", err)
	}
}
