package xkafka

import (
	"fmt"
	"strconv"
	"strings"
)

// Sink props, as provided in the sink section of the tap config. All props prefixed with
// PropKafkaPrefix are passed on to the producer with the prefix removed, e.g.
// "kafka.bootstrap.servers".
const (
	PropKafkaPrefix       = "kafka."
	PropTopicPrefix       = "topicPrefix"
	PropNumPartitions     = "numPartitions"
	PropReplicationFactor = "replicationFactor"

	DefaultTopicPrefix       = "facebook."
	DefaultNumPartitions     = 6
	DefaultReplicationFactor = 3
)

type ConfigMap map[string]any

type Config struct {
	topicPrefix       string
	numPartitions     int
	replicationFactor int
	configMap         ConfigMap // supports all possible Kafka producer properties
}

func NewConfig(props map[string]string) (*Config, error) {
	c := &Config{
		topicPrefix:       DefaultTopicPrefix,
		numPartitions:     DefaultNumPartitions,
		replicationFactor: DefaultReplicationFactor,
		configMap:         make(ConfigMap),
	}

	var err error
	for k, v := range props {
		switch {
		case strings.HasPrefix(k, PropKafkaPrefix):
			c.configMap[strings.TrimPrefix(k, PropKafkaPrefix)] = v
		case k == PropTopicPrefix:
			c.topicPrefix = v
		case k == PropNumPartitions:
			c.numPartitions, err = positiveInt(k, v)
		case k == PropReplicationFactor:
			c.replicationFactor, err = positiveInt(k, v)
		}
		if err != nil {
			return nil, err
		}
	}
	if _, ok := c.configMap["bootstrap.servers"]; !ok {
		return nil, fmt.Errorf("missing sink prop %sbootstrap.servers", PropKafkaPrefix)
	}
	return c, nil
}

// Topic returns the name of the topic the provided stream is published to.
func (c *Config) Topic(stream string) string {
	return c.topicPrefix + stream
}

func (c *Config) String() string {
	return fmt.Sprintf("topicPrefix: %s, numPartitions: %d, replicationFactor: %d, props: %+v",
		c.topicPrefix, c.numPartitions, c.replicationFactor, displayConfig(c.configMap))
}

func positiveInt(prop, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid value %q for sink prop %s", value, prop)
	}
	return n, nil
}

func displayConfig(in ConfigMap) ConfigMap {
	out := make(ConfigMap)
	for k, v := range in {
		if k != "sasl.password" {
			out[k] = v
		}
	}
	return out
}
