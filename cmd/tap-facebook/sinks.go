package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"github.com/zpiroux/tapfacebook"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/void"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/xbigquery"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/xbigtable"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/xkafka"
	"github.com/zpiroux/tapfacebook/internal/pkg/entity/xpubsub"
	"github.com/zpiroux/tapfacebook/internal/pkg/graphapi"
)

var sinkIds = []string{
	string(entity.EntitySinger),
	string(entity.EntityVoid),
	xbigquery.SinkId,
	xpubsub.SinkId,
	xkafka.SinkId,
	xbigtable.SinkId,
}

// sinkKeys maps the snake_case keys of each sink section in the config file to the
// props of the sink's loaders.
var sinkKeys = map[string]map[string]string{
	xbigquery.SinkId: {
		"dataset":      xbigquery.PropDataset,
		"location":     xbigquery.PropLocation,
		"table_prefix": xbigquery.PropTablePrefix,
	},
	xpubsub.SinkId: {
		"topic": xpubsub.PropTopic,
	},
	xkafka.SinkId: {
		"bootstrap_servers":  xkafka.PropKafkaPrefix + "bootstrap.servers",
		"topic_prefix":       xkafka.PropTopicPrefix,
		"num_partitions":     xkafka.PropNumPartitions,
		"replication_factor": xkafka.PropReplicationFactor,
	},
	xbigtable.SinkId: {
		"instance":     xbigtable.PropInstance,
		"table":        xbigtable.PropTable,
		"max_versions": xbigtable.PropMaxVersions,
	},
	string(entity.EntityVoid): {
		"log_record_data": void.PropLogRecordData,
		"simulate_error":  void.PropSimulateError,
		"max_errors":      void.PropMaxErrors,
	},
}

// sinkProps collects the props of the sink section "sink.<sinkId>". Kafka producer
// properties can be given verbatim in "sink.kafka.producer".
func sinkProps(v *viper.Viper, sinkId string) map[string]string {
	props := make(map[string]string)
	for key, prop := range sinkKeys[sinkId] {
		path := "sink." + sinkId + "." + key
		if v.IsSet(path) {
			props[prop] = v.GetString(path)
		}
	}
	if sinkId == xkafka.SinkId {
		for k, value := range v.GetStringMapString("sink.kafka.producer") {
			props[xkafka.PropKafkaPrefix+k] = value
		}
	}
	return props
}

// registerSink creates the loader factory of the selected sink. The singer and void
// sinks are always registered by the tap itself.
func registerSink(ctx context.Context, config *tapfacebook.Config, v *viper.Viper, opts *options) error {
	props := sinkProps(v, opts.sink)
	config.Sink.Id = opts.sink
	config.Sink.Props = props

	var (
		lf  entity.LoaderFactory
		err error
	)
	switch opts.sink {
	case string(entity.EntitySinger), string(entity.EntityVoid):
		return nil
	case xkafka.SinkId:
		lf, err = xkafka.NewLoaderFactory(props, xkafka.DefaultProducerFactory{})
	case xbigquery.SinkId, xpubsub.SinkId, xbigtable.SinkId:
		if opts.gcpProject == "" {
			return fmt.Errorf("%w, details: sink %s requires --gcp-project", ErrInvalidFlags, opts.sink)
		}
		lf, err = newGCPLoaderFactory(ctx, opts.sink, opts.gcpProject, props)
	default:
		return fmt.Errorf("%w, details: unknown sink %q", ErrInvalidFlags, opts.sink)
	}
	if err != nil {
		return fmt.Errorf("could not create %s sink, err: %w", opts.sink, err)
	}
	return config.RegisterLoaderType(lf)
}

func newGCPLoaderFactory(ctx context.Context, sinkId, project string, props map[string]string) (entity.LoaderFactory, error) {
	switch sinkId {
	case xbigquery.SinkId:
		return xbigquery.NewLoaderFactory(ctx, project)
	case xpubsub.SinkId:
		return xpubsub.NewLoaderFactory(ctx, project)
	default:
		return xbigtable.NewLoaderFactory(ctx, project, props)
	}
}

func streamNames() []string {
	var names []string
	for _, d := range graphapi.Definitions() {
		names = append(names, d.Name)
	}
	return names
}
