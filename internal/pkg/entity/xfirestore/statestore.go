package xfirestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	StoreId = "firestore"

	DefaultKind = "TapState"

	propState   = "state"
	propUpdated = "updated"
)

var log *logger.Log

func init() {
	log = logging.New()
}

// StateStore keeps the sync state of an ad account as a single Firestore entity, named by
// the account ID, so that scheduled runs can continue where the previous one ended.
type StateStore struct {
	client    FirestoreClient
	key       *datastore.Key
	closeFunc func() error
}

// NewStateStore creates a store using a client for the provided GCP project.
func NewStateStore(ctx context.Context, projectId, namespace, accountId string) (*StateStore, error) {
	client, err := datastore.NewClient(ctx, projectId)
	if err != nil {
		return nil, err
	}
	s, err := NewStateStoreWithClient(client, namespace, accountId)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closeFunc = client.Close
	return s, nil
}

func NewStateStoreWithClient(client FirestoreClient, namespace, accountId string) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("invalid arguments, client cannot be nil")
	}
	if accountId == "" {
		return nil, errors.New("no account ID provided to state store")
	}
	key := datastore.NameKey(DefaultKind, accountId, nil)
	key.Namespace = namespace
	return &StateStore{client: client, key: key}, nil
}

func (s *StateStore) Load(ctx context.Context) (*entity.State, error) {

	var props datastore.PropertyList
	err := s.client.Get(ctx, s.key, &props)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		log.Infof(s.lgprfx() + "no stored state found, starting with empty state")
		return entity.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get state from firestore, key: %v, err: %w", s.key, err)
	}

	for _, p := range props {
		if p.Name != propState {
			continue
		}
		switch v := p.Value.(type) {
		case string:
			return entity.ParseState([]byte(v))
		case []byte:
			return entity.ParseState(v)
		default:
			return nil, fmt.Errorf("invalid type %T of stored state, key: %v", p.Value, s.key)
		}
	}
	return entity.NewState(), nil
}

func (s *StateStore) Save(ctx context.Context, state *entity.State) error {

	data, err := state.MarshalJSON()
	if err != nil {
		return err
	}
	props := datastore.PropertyList{
		{Name: propState, Value: string(data), NoIndex: true},
		{Name: propUpdated, Value: time.Now().UTC()},
	}
	if _, err := s.client.Put(ctx, s.key, &props); err != nil {
		return fmt.Errorf("could not store state in firestore, key: %v, err: %w", s.key, err)
	}
	log.Debugf(s.lgprfx()+"state stored: %s", string(data))
	return nil
}

func (s *StateStore) Close() error {
	if s.closeFunc == nil {
		return nil
	}
	return s.closeFunc()
}

func (s *StateStore) lgprfx() string {
	return "[xfirestore.statestore:" + s.key.Name + "] "
}
