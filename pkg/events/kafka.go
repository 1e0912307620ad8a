package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jscharber/convosense/pkg/tracing"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled" env:"KAFKA_ENABLED" default:"false"`
	Brokers          []string      `yaml:"brokers" json:"brokers" env:"KAFKA_BROKERS"`
	Topic            string        `yaml:"topic" json:"topic" env:"KAFKA_TOPIC" default:"convosense.conversations"`
	ClientID         string        `yaml:"client_id" json:"client_id" env:"KAFKA_CLIENT_ID" default:"convosense"`
	SecurityProtocol string        `yaml:"security_protocol" json:"security_protocol" env:"KAFKA_SECURITY_PROTOCOL" default:"PLAINTEXT"`
	SASLMechanism    string        `yaml:"sasl_mechanism" json:"sasl_mechanism" env:"KAFKA_SASL_MECHANISM"`
	SASLUsername     string        `yaml:"sasl_username" json:"sasl_username" env:"KAFKA_SASL_USERNAME"`
	SASLPassword     string        `yaml:"sasl_password" json:"sasl_password" env:"KAFKA_SASL_PASSWORD"`
	Acks             string        `yaml:"acks" json:"acks" env:"KAFKA_ACKS" default:"all"`
	CompressionType  string        `yaml:"compression_type" json:"compression_type" env:"KAFKA_COMPRESSION_TYPE" default:"snappy"`
	LingerMS         int           `yaml:"linger_ms" json:"linger_ms" env:"KAFKA_LINGER_MS" default:"5"`
	FlushTimeout     time.Duration `yaml:"flush_timeout" json:"flush_timeout" env:"KAFKA_FLUSH_TIMEOUT" default:"5s"`
}

// DefaultKafkaConfig returns Kafka publishing disabled with local defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "convosense.conversations",
		ClientID:         "convosense",
		SecurityProtocol: "PLAINTEXT",
		Acks:             "all",
		CompressionType:  "snappy",
		LingerMS:         5,
		FlushTimeout:     5 * time.Second,
	}
}

// Validate checks the settings required to connect.
func (c KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required when kafka is enabled")
	}
	if c.SecurityProtocol != "PLAINTEXT" && c.SASLMechanism == "" {
		return fmt.Errorf("kafka sasl_mechanism is required for security protocol %s", c.SecurityProtocol)
	}
	return nil
}

func (c KafkaConfig) configMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.Brokers, ","),
		"client.id":          c.ClientID,
		"security.protocol":  c.SecurityProtocol,
		"acks":               c.Acks,
		"compression.type":   c.CompressionType,
		"linger.ms":          c.LingerMS,
		"enable.idempotence": true,
	}
	if c.SecurityProtocol != "PLAINTEXT" {
		_ = cm.SetKey("sasl.mechanism", c.SASLMechanism)
		_ = cm.SetKey("sasl.username", c.SASLUsername)
		_ = cm.SetKey("sasl.password", c.SASLPassword)
	}
	return cm
}

// KafkaPublisher writes events to a single topic keyed by conversation id.
type KafkaPublisher struct {
	producer *kafka.Producer
	config   KafkaConfig
	tracing  *tracing.TracingService
}

// NewKafkaPublisher connects a producer. ts may be nil.
func NewKafkaPublisher(config KafkaConfig, ts *tracing.TracingService) (*KafkaPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	producer, err := kafka.NewProducer(config.configMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	if ts == nil {
		ts, _ = tracing.NewTracingService(nil)
	}
	return &KafkaPublisher{producer: producer, config: config, tracing: ts}, nil
}

// buildMessage serializes event with trace propagation headers.
func buildMessage(ctx context.Context, topic string, event *Event) (*kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	headers := []kafka.Header{{Key: "event-type", Value: []byte(event.Type)}}
	for k, v := range tracing.InjectHeaders(ctx) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ConversationID),
		Value:          value,
		Headers:        headers,
		Timestamp:      event.Time,
	}, nil
}

// Publish produces event and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, event *Event) error {
	ctx, span := p.tracing.StartKafkaSpan(ctx, "publish", p.config.Topic)
	defer span.End()
	span.SetAttributes(attribute.String("event.type", event.Type))

	msg, err := buildMessage(ctx, p.config.Topic, event)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	delivery := make(chan kafka.Event, 1)
	if err := p.producer.Produce(msg, delivery); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			tracing.RecordError(span, m.TopicPartition.Error)
			return fmt.Errorf("message delivery failed: %w", m.TopicPartition.Error)
		}
		span.SetAttributes(
			attribute.Int("kafka.partition", int(m.TopicPartition.Partition)),
			attribute.Int64("kafka.offset", int64(m.TopicPartition.Offset)),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent lets the publisher subscribe to a Bus.
func (p *KafkaPublisher) HandleEvent(ctx context.Context, event *Event) error {
	return p.Publish(ctx, event)
}

// HealthCheck fetches cluster metadata.
func (p *KafkaPublisher) HealthCheck(ctx context.Context) error {
	timeout := 1000
	if deadline, ok := ctx.Deadline(); ok {
		timeout = int(time.Until(deadline).Milliseconds())
	}
	if _, err := p.producer.GetMetadata(&p.config.Topic, false, timeout); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (p *KafkaPublisher) Close() error {
	remaining := p.producer.Flush(int(p.config.FlushTimeout.Milliseconds()))
	p.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("%d kafka messages were not delivered before close", remaining)
	}
	return nil
}
