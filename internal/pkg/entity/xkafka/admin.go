package xkafka

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

type AdminClient interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	Close()
}

type DefaultAdminClient struct {
	ac *kafka.AdminClient
}

func (d DefaultAdminClient) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	return d.ac.CreateTopics(ctx, topics, options...)
}

func (d DefaultAdminClient) Close() {
	d.ac.Close()
}
