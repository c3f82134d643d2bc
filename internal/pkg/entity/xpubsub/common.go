package xpubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
)

// The pubsub client types are wrapped on consumer side, since the client library returns
// concrete types which cannot be mocked.

type PubsubClient interface {
	Topic(id string) Topic
	Close() error
}

type Topic interface {
	Exists(ctx context.Context) (bool, error)
	Publish(ctx context.Context, msg *pubsub.Message) PublishResult
	Stop()
}

type PublishResult interface {
	Get(ctx context.Context) (serverID string, err error)
}

type defaultPubsubClient struct {
	client *pubsub.Client
}

func NewPubsubClient(client *pubsub.Client) PubsubClient {
	return &defaultPubsubClient{client: client}
}

func (c *defaultPubsubClient) Topic(id string) Topic {
	return &defaultTopic{topic: c.client.Topic(id)}
}

func (c *defaultPubsubClient) Close() error {
	return c.client.Close()
}

type defaultTopic struct {
	topic *pubsub.Topic
}

func (t *defaultTopic) Exists(ctx context.Context) (bool, error) {
	return t.topic.Exists(ctx)
}

func (t *defaultTopic) Publish(ctx context.Context, msg *pubsub.Message) PublishResult {
	return t.topic.Publish(ctx, msg)
}

func (t *defaultTopic) Stop() {
	t.topic.Stop()
}
