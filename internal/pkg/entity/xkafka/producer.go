package xkafka

import "github.com/confluentinc/confluent-kafka-go/kafka"

type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

type ProducerFactory interface {
	NewProducer(conf *kafka.ConfigMap) (Producer, error)
	NewAdminClientFromProducer(p Producer) (AdminClient, error)
}

type DefaultProducerFactory struct{}

func (d DefaultProducerFactory) NewProducer(conf *kafka.ConfigMap) (Producer, error) {
	return kafka.NewProducer(conf)
}

func (d DefaultProducerFactory) NewAdminClientFromProducer(p Producer) (AdminClient, error) {
	ac, err := kafka.NewAdminClientFromProducer(p.(*kafka.Producer))
	if err != nil {
		return nil, err
	}
	return DefaultAdminClient{ac: ac}, nil
}
