// Package events publishes booking outcomes to RabbitMQ for downstream consumers
// (receipts, calendar sync, analytics).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultQueue = "reservation.confirmed"

type ReservationConfirmed struct {
	EventID       string    `json:"event_id"`
	ReservationID int64     `json:"reservation_id"`
	UserID        int64     `json:"user_id"`
	Rail          string    `json:"rail_type"`
	TrainNumber   string    `json:"train_number"`
	Departure     string    `json:"departure_station"`
	Arrival       string    `json:"arrival_station"`
	Date          string    `json:"departure_date"`
	DepartureTime string    `json:"departure_time"`
	Tickets       int       `json:"tickets"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher dials per publish. Confirmations are rare, so holding a connection open is not
// worth the reconnect handling.
type Publisher struct {
	URL   string
	Queue string
}

func (p *Publisher) PublishReserved(ctx context.Context, ev ReservationConfirmed) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	queue := p.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return fmt.Errorf("events: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("events: channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("events: declare %s: %w", queue, err)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    ev.OccurredAt,
		Type:         queue,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}
