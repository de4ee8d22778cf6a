package event

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards delivered ledger events to a Kafka topic.
// Writes are synchronous so a failed write goes back to the outbox for retry.
type KafkaSink struct {
	writer     MessageWriter
	serializer *EventSerializer
	timeout    time.Duration
	logger     *zap.Logger
}

// NewKafkaWriter builds a writer for cfg. SASL/PLAIN is enabled when a username
// is set and always runs over TLS.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	transport := &kafka.Transport{DialTimeout: 10 * time.Second}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS || cfg.Username != "" {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport:    transport,
	}
}

// NewKafkaSink creates a sink writing serialized events through writer
func NewKafkaSink(writer MessageWriter, serializer *EventSerializer, timeout time.Duration, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer:     writer,
		serializer: serializer,
		timeout:    timeout,
		logger:     logger.Named("kafka_sink"),
	}
}

// EventTypes implements shared.EventHandler. The sink forwards every type
// its serializer can encode.
func (s *KafkaSink) EventTypes() []string {
	return s.serializer.RegisteredTypes()
}

// Handle implements shared.EventHandler. Messages are keyed by aggregate id so
// every event of one document lands on the same partition in order.
func (s *KafkaSink) Handle(ctx context.Context, event shared.DomainEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "kafka.publish",
		telemetry.WithSpanKind(trace.SpanKindProducer),
		telemetry.WithAttribute(telemetry.SpanAttrEventType, event.EventType()),
		telemetry.WithAttribute(telemetry.SpanAttrDocumentID, event.AggregateID()),
	)
	defer span.End()

	payload, err := s.serializer.Serialize(event)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("kafka sink: serialize %s: %w", event.EventType(), err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID().String()),
		Value: payload,
		Time:  event.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID().String())},
			{Key: "event_type", Value: []byte(event.EventType())},
			{Key: "aggregate_type", Value: []byte(event.AggregateType())},
		},
	}
	if traceID := telemetry.GetTraceID(ctx); traceID != "" {
		msg.Headers = append(msg.Headers,
			kafka.Header{Key: "trace_id", Value: []byte(traceID)},
			kafka.Header{Key: "span_id", Value: []byte(telemetry.GetSpanID(ctx))},
		)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("Failed to forward ledger event",
			zap.String("event_id", event.EventID().String()),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
		telemetry.RecordError(span, err)
		return fmt.Errorf("kafka sink: write: %w", err)
	}
	telemetry.SetOK(span)
	return nil
}

// Close closes the underlying writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var _ shared.EventHandler = (*KafkaSink)(nil)
