package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const eventSource = "tourbook"

// CloudEvent is the envelope written to Kafka.
type CloudEvent struct {
	SpecVersion string          `json:"specversion"`
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Data        json.RawMessage `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder republishes bus events to a Kafka topic.
type KafkaForwarder struct {
	writer  messageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewKafkaForwarder writes asynchronously; delivery failures are logged by
// the completion callback instead of failing the request that published.
func NewKafkaForwarder(brokers []string, topic string, logger *zerolog.Logger) *KafkaForwarder {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
	}
	f := newKafkaForwarder(w, logger)
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			f.logger.Error().Err(err).Int("messages", len(messages)).Msg("kafka delivery failed")
		}
	}
	return f
}

func newKafkaForwarder(w messageWriter, logger *zerolog.Logger) *KafkaForwarder {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "kafka").Logger()
	}
	return &KafkaForwarder{writer: w, timeout: 5 * time.Second, logger: l}
}

// Attach subscribes the forwarder to every event on the bus.
func (f *KafkaForwarder) Attach(bus *EventBus) {
	bus.Subscribe(AllEvents, f.Handle)
}

// Handle writes one event. Messages are keyed by booking or review id so
// that events of one entity keep their order within a partition.
func (f *KafkaForwarder) Handle(event *Event) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	envelope := CloudEvent{
		SpecVersion: "1.0",
		ID:          id,
		Source:      eventSource,
		Type:        event.Type,
		Time:        event.CreatedAt,
		Data:        event.Payload,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode cloud event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(entityKey(event.Payload)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_type", Value: []byte(event.Type)},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s to kafka: %w", event.Type, err)
	}
	f.logger.Debug().Str("event", event.Type).Msg("event forwarded")
	return nil
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}

func entityKey(payload []byte) string {
	var ids struct {
		BookingID string `json:"booking_id"`
		ReviewID  string `json:"review_id"`
	}
	if err := json.Unmarshal(payload, &ids); err != nil {
		return ""
	}
	if ids.BookingID != "" {
		return ids.BookingID
	}
	return ids.ReviewID
}
