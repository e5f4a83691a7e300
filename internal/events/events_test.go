package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	callCount := 0
	bus.Subscribe(EventBookingCreated, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: "b1", People: 2}))
	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventBookingCreated, received.Type)
	assert.False(t, received.CreatedAt.IsZero())
	assert.NotEmpty(t, received.ID)

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "b1", decoded.BookingID)
	assert.Equal(t, 2, decoded.People)

	require.NoError(t, bus.PublishJSON(EventBookingPaid, BookingEventPayload{BookingID: "b1"}))
	assert.Equal(t, 1, callCount, "handler must only see its own type")
}

func TestEventBusWildcardAndErrors(t *testing.T) {
	bus := NewEventBus(nil)
	var seen []string

	bus.Subscribe(EventBookingPaid, func(_ *Event) error { return errors.New("boom") })
	bus.Subscribe(AllEvents, func(e *Event) error { seen = append(seen, e.Type); return nil })

	require.NoError(t, bus.PublishJSON(EventBookingPaid, map[string]string{}))
	require.NoError(t, bus.PublishJSON(EventReviewCreated, map[string]string{}))
	assert.Equal(t, []string{EventBookingPaid, EventReviewCreated}, seen)
}

func TestEventBusUnsubscribeAndPanics(t *testing.T) {
	bus := NewEventBus(nil)
	calls := 0

	bus.Subscribe(EventBookingCancelled, func(_ *Event) error { panic("nil map") })
	stop := bus.Subscribe(EventBookingCancelled, func(_ *Event) error { calls++; return nil })

	assert.NotPanics(t, func() {
		require.NoError(t, bus.PublishJSON(EventBookingCancelled, map[string]string{}))
	})
	assert.Equal(t, 1, calls)

	stop()
	stop()
	require.NoError(t, bus.PublishJSON(EventBookingCancelled, map[string]string{}))
	assert.Equal(t, 1, calls)
}

func TestPublishJSONNilBusAndBadPayload(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventBookingCreated, nil))

	assert.Error(t, NewEventBus(nil).PublishJSON(EventBookingCreated, make(chan int)))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaForwarder(t *testing.T) {
	writer := &fakeWriter{}
	forwarder := newKafkaForwarder(writer, nil)
	bus := NewEventBus(nil)
	forwarder.Attach(bus)

	require.NoError(t, bus.PublishJSON(EventBookingConfirmed, BookingEventPayload{BookingID: "b-42", Status: "confirmed"}))
	require.NoError(t, bus.PublishJSON(EventReviewCreated, ReviewEventPayload{ReviewID: "r-1", Rating: 5}))
	require.Len(t, writer.msgs, 2)

	assert.Equal(t, "b-42", string(writer.msgs[0].Key))
	assert.Equal(t, "r-1", string(writer.msgs[1].Key))

	var envelope CloudEvent
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &envelope))
	assert.Equal(t, "1.0", envelope.SpecVersion)
	assert.Equal(t, EventBookingConfirmed, envelope.Type)
	assert.NotEmpty(t, envelope.ID)

	ev := &Event{ID: "evt-1", Type: EventBookingPaid, Payload: []byte(`{"booking_id":"b-42"}`)}
	require.NoError(t, forwarder.Handle(ev))
	require.NoError(t, json.Unmarshal(writer.msgs[2].Value, &envelope))
	assert.Equal(t, "evt-1", envelope.ID, "bus event id is reused")

	var data BookingEventPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "confirmed", data.Status)

	writer.err = errors.New("broker down")
	assert.Error(t, forwarder.Handle(&Event{Type: EventBookingPaid, Payload: []byte(`{}`)}))

	require.NoError(t, forwarder.Close())
	assert.True(t, writer.closed)
}
