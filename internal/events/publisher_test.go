package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/honeyhive/backend/internal/models"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisher(w)
	evt := models.Event{
		Type:          models.EventFeeRefunded,
		ApplicationID: uuid.New(),
		JobID:         uuid.New(),
		UserID:        uuid.New(),
		Amount:        3,
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != evt.ApplicationID.String() {
		t.Errorf("key = %q, want application id", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != models.EventFeeRefunded {
		t.Errorf("headers = %+v", msg.Headers)
	}
	var got models.Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ApplicationID != evt.ApplicationID || got.Amount != 3 || !got.OccurredAt.Equal(evt.OccurredAt) {
		t.Errorf("payload = %+v, want %+v", got, evt)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: err=%v closed=%v", err, w.closed)
	}
}

func TestNopPublisher(t *testing.T) {
	if err := (NopPublisher{}).Publish(context.Background(), models.Event{Type: models.EventApplicationSubmitted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
