package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Bookmark holds the highest replication key value synced for a stream.
type Bookmark struct {
	ReplicationKey      string `json:"replication_key,omitempty"`
	ReplicationKeyValue string `json:"replication_key_value,omitempty"`
}

// State is the Singer compatible sync state, shared by all streams of a run.
// It is safe for concurrent use.
type State struct {
	mu        sync.Mutex
	bookmarks map[string]Bookmark
}

type stateJSON struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

func NewState() *State {
	return &State{bookmarks: make(map[string]Bookmark)}
}

// ParseState creates State from its JSON form. Empty input gives an empty state.
func ParseState(data []byte) (*State, error) {
	s := NewState()
	if len(data) == 0 {
		return s, nil
	}
	var sj stateJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	for stream, b := range sj.Bookmarks {
		s.bookmarks[stream] = b
	}
	return s, nil
}

func (s *State) Bookmark(stream string) (Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[stream]
	return b, ok
}

func (s *State) SetBookmark(stream string, b Bookmark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[stream] = b
}

func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj := stateJSON{Bookmarks: make(map[string]Bookmark, len(s.bookmarks))}
	for k, v := range s.bookmarks {
		sj.Bookmarks[k] = v
	}
	return json.Marshal(sj)
}

func (s *State) JSON() []byte {
	data, _ := s.MarshalJSON()
	return data
}

// StateStore persists State between runs.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}
