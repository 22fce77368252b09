package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// KafkaPublisher writes JSON encoded events to a topic.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: timeout,
	}
}

// Publish writes e keyed by its image id.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Time:  e.Time,
	})
	return errors.Wrapf(err, "write %s to %s", e.Type, p.writer.Topic)
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Open returns a Kafka publisher when Kafka is enabled and reachable, a LogPublisher otherwise.
//
// Arguments:
//   - ctx: Bounds the broker probe.
//   - cfg: The Kafka settings.
//   - log: Receives the fallback notice and the logged events.
//
// Returns:
//   - Publisher: The publisher to use.
func Open(ctx context.Context, cfg KafkaConfig, log logrus.FieldLogger) Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return NewLogPublisher(log)
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := kafka.DialContext(dctx, "tcp", cfg.Brokers[0])
	if err != nil {
		log.WithError(err).WithField("brokers", cfg.Brokers).Warn("kafka unreachable, logging events instead")
		return NewLogPublisher(log)
	}
	defer conn.Close()

	log.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("publishing events to kafka")
	return NewKafkaPublisher(cfg)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
