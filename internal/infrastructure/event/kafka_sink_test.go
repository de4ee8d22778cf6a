package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	deadline bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	ctx := context.Background()
	serializer := NewLedgerEventSerializer()

	t.Run("writes the serialized event keyed by document", func(t *testing.T) {
		w := &fakeWriter{}
		sink := NewKafkaSink(w, serializer, time.Second, zap.NewNop())
		ev := recordedEvent()

		require.NoError(t, sink.Handle(ctx, ev))
		require.Len(t, w.messages, 1)
		assert.True(t, w.deadline)

		msg := w.messages[0]
		assert.Equal(t, ev.DocumentID.String(), string(msg.Key))
		assert.Equal(t, ev.OccurredAt(), msg.Time)

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, ev.EventID().String(), headers["event_id"])
		assert.Equal(t, inventory.EventTypeDocumentRecorded, headers["event_type"])
		assert.NotContains(t, headers, "trace_id", "no tracer provider, no trace context")

		decoded, err := serializer.Deserialize(inventory.EventTypeDocumentRecorded, msg.Value)
		require.NoError(t, err)
		assert.Equal(t, ev.DocumentID, decoded.(*inventory.DocumentRecordedEvent).DocumentID)
	})

	t.Run("returns write errors so the outbox retries", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("broker down")}
		sink := NewKafkaSink(w, serializer, 0, nil)

		err := sink.Handle(ctx, recordedEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
		assert.False(t, w.deadline)
	})

	t.Run("subscribes to ledger events through the bus", func(t *testing.T) {
		w := &fakeWriter{}
		sink := NewKafkaSink(w, serializer, time.Second, nil)
		bus := NewInMemoryEventBus(zap.NewNop())
		bus.Subscribe(sink)
		assert.ElementsMatch(t, LedgerEventTypes(), sink.EventTypes())

		require.NoError(t, bus.Publish(ctx, recordedEvent()))
		assert.Len(t, w.messages, 1)

		require.NoError(t, sink.Close())
		assert.True(t, w.closed)
	})
}

func TestKafkaSink_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	w := &fakeWriter{}
	sink := NewKafkaSink(w, NewLedgerEventSerializer(), time.Second, nil)
	ev := recordedEvent()
	require.NoError(t, sink.Handle(context.Background(), ev))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "kafka.publish", span.Name())
	assert.Equal(t, trace.SpanKindProducer, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, inventory.EventTypeDocumentRecorded, attrs[telemetry.SpanAttrEventType])
	assert.Equal(t, ev.DocumentID.String(), attrs[telemetry.SpanAttrDocumentID])

	headers := map[string]string{}
	for _, h := range w.messages[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, span.SpanContext().TraceID().String(), headers["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), headers["span_id"])
}

func TestNewKafkaWriter(t *testing.T) {
	t.Run("plain brokers", func(t *testing.T) {
		w := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"kafka:9092"}, Topic: "ledger-events"})
		assert.Equal(t, "ledger-events", w.Topic)
		assert.Equal(t, "kafka:9092", w.Addr.String())

		transport, ok := w.Transport.(*kafka.Transport)
		require.True(t, ok)
		assert.Nil(t, transport.SASL)
		assert.Nil(t, transport.TLS)
	})

	t.Run("sasl implies tls", func(t *testing.T) {
		w := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"kafka:9093"}, Topic: "t", Username: "ledger", Password: "secret"})
		transport := w.Transport.(*kafka.Transport)
		assert.NotNil(t, transport.SASL)
		assert.NotNil(t, transport.TLS)
	})
}
