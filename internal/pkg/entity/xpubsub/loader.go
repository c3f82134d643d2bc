package xpubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	SinkId = "pubsub"

	PropTopic = "topic"

	AttrStream      = "stream"
	AttrKey         = "key"
	AttrExtractedAt = "extracted_at"
)

var log *logger.Log

func init() {
	log = logging.New()
}

var (
	ErrMissingTopic = errors.New("no pubsub topic specified in sink props")
	ErrTopicMissing = errors.New("pubsub topic does not exist")
)

type loaderFactory struct {
	client PubsubClient
	mu     sync.Mutex
	topics map[string]Topic
}

// NewLoaderFactory creates a Pub/Sub sink factory using a client for the provided GCP
// project.
func NewLoaderFactory(ctx context.Context, projectId string) (entity.LoaderFactory, error) {
	client, err := pubsub.NewClient(ctx, projectId)
	if err != nil {
		return nil, err
	}
	return NewLoaderFactoryWithClient(NewPubsubClient(client)), nil
}

func NewLoaderFactoryWithClient(client PubsubClient) entity.LoaderFactory {
	return &loaderFactory{
		client: client,
		topics: make(map[string]Topic),
	}
}

func (lf *loaderFactory) SinkId() string {
	return SinkId
}

func (lf *loaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {

	if c.Spec == nil {
		return nil, errors.New("no stream spec provided to pubsub loader")
	}
	topicId := c.Props[PropTopic]
	if topicId == "" {
		return nil, ErrMissingTopic
	}
	topic, err := lf.topic(ctx, topicId)
	if err != nil {
		return nil, err
	}
	return &loader{id: c.ID, spec: c.Spec, topic: topic, topicId: topicId}, nil
}

// Topics are shared by all loaders, since each topic handle runs its own publishing
// goroutines.
func (lf *loaderFactory) topic(ctx context.Context, id string) (Topic, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if topic, ok := lf.topics[id]; ok {
		return topic, nil
	}
	topic := lf.client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not check existence of topic %s: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTopicMissing, id)
	}
	lf.topics[id] = topic
	return topic, nil
}

// Close flushes and stops all topics before closing the client.
func (lf *loaderFactory) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	for _, topic := range lf.topics {
		topic.Stop()
	}
	lf.topics = make(map[string]Topic)
	return lf.client.Close()
}

type loader struct {
	id      string
	spec    *entity.StreamSpec
	topic   Topic
	topicId string
}

// StreamLoad publishes all records and waits for all of them to be acknowledged by the
// server. Publishing errors are regarded as retryable.
func (l *loader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {

	if len(records) == 0 {
		return "", errors.New("streamLoad called without data to load"), false
	}

	results := make([]PublishResult, 0, len(records))
	for _, record := range records {
		msg := &pubsub.Message{
			Data: record.Data,
			Attributes: map[string]string{
				AttrStream: record.Stream,
				AttrKey:    record.Key(l.spec.PrimaryKeys),
			},
		}
		if !record.ExtractedAt.IsZero() {
			msg.Attributes[AttrExtractedAt] = record.ExtractedAt.UTC().Format(entity.TimestampLayoutIsoMillis)
		}
		results = append(results, l.topic.Publish(ctx, msg))
	}

	var (
		lastId   string
		firstErr error
		nbFailed int
	)
	for _, result := range results {
		id, err := result.Get(ctx)
		if err != nil {
			nbFailed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		lastId = id
	}

	if firstErr != nil {
		log.Errorf(l.lgprfx()+"failed to publish %d of %d messages, first err: %v", nbFailed, len(records), firstErr)
		return "", fmt.Errorf("could not publish %d message(s) to topic %s: %w", nbFailed, l.topicId, firstErr), true
	}
	log.Debugf(l.lgprfx()+"published %d messages, last ID: %s", len(records), lastId)
	return lastId, nil, false
}

func (l *loader) Shutdown(ctx context.Context) {}

func (l *loader) lgprfx() string {
	return "[xpubsub.loader:" + l.spec.Name + ":" + l.id + "] "
}
