package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Sink names accepted by Open.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkSQS   = "sqs"
)

// SinkConfig selects and configures a Publisher.
type SinkConfig struct {
	Sink         string
	KafkaBrokers []string
	KafkaTopic   string
	SQSQueueURL  string
}

// Open returns the Publisher for cfg.Sink.
func Open(ctx context.Context, cfg SinkConfig, logger zerolog.Logger) (Publisher, error) {
	switch cfg.Sink {
	case "", SinkNone:
		return NopPublisher{}, nil
	case SinkLog:
		return NewLogPublisher(logger), nil
	case SinkKafka:
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, fmt.Errorf("kafka sink requires brokers and topic")
		}
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case SinkSQS:
		if cfg.SQSQueueURL == "" {
			return nil, fmt.Errorf("sqs sink requires a queue url")
		}
		return NewSQSPublisher(ctx, cfg.SQSQueueURL)
	default:
		return nil, fmt.Errorf("unknown event sink %q", cfg.Sink)
	}
}
