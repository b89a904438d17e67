package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

// EventMessage is what subscribers of the events channel receive.
type EventMessage struct {
	ID            int64           `json:"id"`
	EventType     string          `json:"event_type"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
	}
}

// Publish sends one event log row to the events channel.
func (p *Publisher) Publish(ctx context.Context, ev appointment.EventLog) error {
	msg := EventMessage{
		ID:            ev.ID,
		EventType:     ev.EventType,
		AppointmentID: ev.AppointmentID,
		CreatedAt:     ev.CreatedAt,
	}
	if len(ev.Payload) > 0 && json.Valid(ev.Payload) {
		msg.Payload = json.RawMessage(ev.Payload)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", msg.ID, err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event %d: %w", msg.ID, err)
	}
	return nil
}
