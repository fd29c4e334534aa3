package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/md-rashed-zaman/medibook/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("appointment", "12", "booking.appointment.booked.v1", map[string]any{"doctor_id": 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if evt.EventID == "" {
		t.Fatal("expected event id")
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["doctor_id"] != float64(3) {
		t.Fatalf("unexpected payload %s (%v)", evt.Payload, err)
	}
}

func TestToMessageCarriesMetaAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rec := Record{
		ID:          7,
		EventID:     "e-7",
		AggregateID: "12",
		EventType:   "booking.appointment.booked.v1",
		Payload:     []byte(`{}`),
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	msg := toMessage(context.Background(), rec)
	if msg.Topic != rec.EventType || string(msg.Key) != "12" {
		t.Fatalf("unexpected topic/key %s/%s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, "event_id") != "e-7" {
		t.Fatalf("missing event_id header: %+v", msg.Headers)
	}
	if kafkax.HeaderValue(msg.Headers, "traceparent") != rec.Traceparent {
		t.Fatalf("trace context not forwarded: %+v", msg.Headers)
	}
}
