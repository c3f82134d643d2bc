package xkafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

const (
	SinkId = "kafka"

	flushTimeoutSec = 10
	headerStream    = "stream"
)

var log *logger.Log

func init() {
	log = logging.New()
}

type loaderFactory struct {
	pf     ProducerFactory
	config *Config

	mu       sync.Mutex // guards producer creation and topic creation
	producer Producer
	ac       AdminClient
	topics   map[string]bool
}

// NewLoaderFactory creates a Kafka sink factory. All loaders share a single producer,
// which is created when the first loader is.
// If pf is nil the default factory, creating real Kafka clients, is used.
func NewLoaderFactory(props map[string]string, pf ProducerFactory) (entity.LoaderFactory, error) {
	config, err := NewConfig(props)
	if err != nil {
		return nil, err
	}
	if pf == nil {
		pf = DefaultProducerFactory{}
	}
	return &loaderFactory{
		pf:     pf,
		config: config,
		topics: make(map[string]bool),
	}, nil
}

func (lf *loaderFactory) SinkId() string {
	return SinkId
}

func (lf *loaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {

	if c.Spec == nil {
		return nil, errors.New("no stream spec provided to kafka loader")
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	if err := lf.createProducer(); err != nil {
		return nil, err
	}

	topic := lf.config.Topic(c.Spec.Name)
	if err := lf.createTopic(ctx, topic); err != nil {
		return nil, err
	}

	return &loader{
		id:       c.ID,
		spec:     c.Spec,
		topic:    topic,
		producer: lf.producer,
		logData:  c.Log,
	}, nil
}

func (lf *loaderFactory) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.producer == nil {
		return nil
	}
	if lf.ac != nil {
		lf.ac.Close()
		lf.ac = nil
	}
	unflushed := lf.producer.Flush(flushTimeoutSec * 1000)
	lf.producer.Close()
	lf.producer = nil
	if unflushed > 0 {
		return fmt.Errorf("%d messages did not get flushed during shutdown, check for potential message loss", unflushed)
	}
	log.Info("[xkafka.loaderFactory] producer closed, all messages flushed")
	return nil
}

func (lf *loaderFactory) createProducer() error {

	if lf.producer != nil {
		return nil
	}

	kconfig := make(kafka.ConfigMap)
	for k, v := range lf.config.configMap {
		kconfig[k] = v
	}

	producer, err := lf.pf.NewProducer(&kconfig)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	ac, err := lf.pf.NewAdminClientFromProducer(producer)
	if err != nil {
		producer.Close()
		return fmt.Errorf("couldn't create admin client, err: %w", err)
	}

	lf.producer = producer
	lf.ac = ac
	log.Infof("[xkafka.loaderFactory] created producer with config: %s", lf.config)
	return nil
}

func (lf *loaderFactory) createTopic(ctx context.Context, name string) error {

	if lf.topics[name] {
		return nil
	}

	topic := kafka.TopicSpecification{
		Topic:             name,
		NumPartitions:     lf.config.numPartitions,
		ReplicationFactor: lf.config.replicationFactor,
	}

	res, err := lf.ac.CreateTopics(ctx, []kafka.TopicSpecification{topic})
	if err != nil {
		return fmt.Errorf("could not create topic with spec: %+v, err: %w", topic, err)
	}

	for _, r := range res {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			log.Infof("[xkafka.loaderFactory] topic created: %s", r.Topic)
		case kafka.ErrTopicAlreadyExists:
			log.Infof("[xkafka.loaderFactory] topic %s already exists", r.Topic)
		default:
			return fmt.Errorf("could not create topic %s, err: %v", r.Topic, r.Error)
		}
	}
	lf.topics[name] = true
	return nil
}

type loader struct {
	id       string
	spec     *entity.StreamSpec
	topic    string
	producer Producer
	logData  bool
}

// StreamLoad produces all records in the page to the stream's topic, keyed by primary key,
// and waits for all delivery reports before returning.
func (l *loader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {

	if len(records) == 0 {
		return "", errors.New("streamLoad called without data to load"), false
	}

	start := time.Now()
	deliveryChan := make(chan kafka.Event, len(records))
	enqueued := 0
	for _, record := range records {
		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &l.topic, Partition: kafka.PartitionAny},
			Key:            []byte(record.Key(l.spec.PrimaryKeys)),
			Value:          record.Data,
			Headers:        []kafka.Header{{Key: headerStream, Value: []byte(record.Stream)}},
		}
		if !record.ExtractedAt.IsZero() {
			msg.Timestamp = record.ExtractedAt
		}
		if err := l.producer.Produce(msg, deliveryChan); err != nil {
			log.Errorf(l.lgprfx()+"producer.Produce() failed with err: %v", err)
			l.awaitDelivery(ctx, deliveryChan, enqueued)
			return "", fmt.Errorf("produce failed: %w", err), true
		}
		enqueued++
	}

	last, err, retryable := l.awaitDelivery(ctx, deliveryChan, enqueued)
	if err == nil && l.logData {
		log.Debugf(l.lgprfx()+"%d records published [duration: %v], last offset: %s", enqueued, time.Since(start), last)
	}
	return last, err, retryable
}

// awaitDelivery waits for n delivery reports. The returned resource ID is the last
// delivered partition and offset.
func (l *loader) awaitDelivery(ctx context.Context, deliveryChan chan kafka.Event, n int) (string, error, bool) {

	var (
		last      string
		firstErr  error
		retryable bool
	)

	for i := 0; i < n; i++ {
		var event kafka.Event
		select {
		case <-ctx.Done():
			return "", ctx.Err(), false
		case event = <-deliveryChan:
		}

		var err error
		switch msg := event.(type) {
		case *kafka.Message:
			if msg.TopicPartition.Error != nil {
				err = fmt.Errorf("publish failed with err: %w", msg.TopicPartition.Error)
				retryable = true
			} else {
				last = fmt.Sprintf("%d:%v", msg.TopicPartition.Partition, msg.TopicPartition.Offset)
			}
		case kafka.Error:
			err = fmt.Errorf("kafka error in producer, code: %v, event: %w", msg.Code(), msg)
			// In case of all brokers down the stream is aborted
			if msg.Code() == kafka.ErrAllBrokersDown {
				err = entity.ErrEntityShutdownRequested
				retryable = false
			} else {
				retryable = true
			}
		default:
			// We don't know if the record got published, so need to retry
			err = fmt.Errorf("unexpected event from producer: %v, treat as error and retry", msg)
			retryable = true
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return "", firstErr, retryable
	}
	return last, nil, false
}

func (l *loader) Shutdown(ctx context.Context) {}

func (l *loader) lgprfx() string {
	return "[xkafka.loader:" + l.spec.Name + ":" + l.id + "] "
}
