package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/zpiroux/tapfacebook/entity"
)

// StreamEntityFactory creates the entities of a stream, as configured for the run.
type StreamEntityFactory interface {
	CreateSource(ctx context.Context, spec *entity.StreamSpec) (entity.PaginatedJSONStream, error)
	CreateRequester(ctx context.Context, spec *entity.StreamSpec, instance string) (entity.Requester, error)
	CreateTransformer(ctx context.Context, spec *entity.StreamSpec) (Transformer, error)
	CreateLoader(ctx context.Context, spec *entity.StreamSpec, instance string) (entity.Loader, error)
}

type StreamBuilder struct {
	entityFactory StreamEntityFactory
}

func NewStreamBuilder(entityFactory StreamEntityFactory) *StreamBuilder {
	return &StreamBuilder{entityFactory: entityFactory}
}

func (s *StreamBuilder) Build(ctx context.Context, spec *entity.StreamSpec) (*Stream, error) {

	instance := createInstanceAlias()

	source, err := s.entityFactory.CreateSource(ctx, spec)
	if err != nil {
		return nil, err
	}
	requester, err := s.entityFactory.CreateRequester(ctx, spec, instance)
	if err != nil {
		return nil, err
	}
	transformer, err := s.entityFactory.CreateTransformer(ctx, spec)
	if err != nil {
		return nil, err
	}
	loader, err := s.entityFactory.CreateLoader(ctx, spec, instance)
	if err != nil {
		return nil, err
	}

	return NewStream(instance, source, requester, transformer, loader), nil
}

var (
	aliasRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
	aliasRandMu sync.Mutex
)

// The executor and stream entities are identified by their pointers, so the alias is only
// used in logs and notifications and does not need to be strictly unique. A short
// pronounceable alias is easier to follow than a uuid when troubleshooting.
func createInstanceAlias() string {
	aliasRandMu.Lock()
	defer aliasRandMu.Unlock()
	var a alias
	return a.cons().vow().cons().cons().vow().cons().name()
}

type alias struct {
	str string
}

func (a alias) vow() alias {
	var vowels = []rune{'a', 'e', 'i', 'o', 'u', 'y'}
	v := vowels[aliasRand.Intn(len(vowels))]
	return alias{str: a.str + string(v)}
}

func (a alias) cons() alias {
	var consonants = []rune{'b', 'c', 'd', 'f', 'g', 'h', 'j', 'k', 'l', 'm', 'n',
		'p', 'q', 'r', 's', 't', 'v', 'w', 'x', 'z'}
	c := consonants[aliasRand.Intn(len(consonants))]
	return alias{str: a.str + string(c)}
}

func (a alias) name() string {
	return a.str
}
