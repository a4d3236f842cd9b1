// README: Publishes order lifecycle events to Kafka.
package order

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

type EventPublisher interface {
	Publish(ctx context.Context, o *Order, e Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Order, Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes one JSON message per transition, keyed by order id so
// a partition sees an order's events in order.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

type lifecycleMessage struct {
	Event
	CustomerID         string  `json:"customer_id"`
	DriverID           *string `json:"driver_id,omitempty"`
	VehicleClass       string  `json:"vehicle_class"`
	TotalCustomerPrice int64   `json:"total_customer_price"`
	CompanyRevenue     int64   `json:"company_revenue"`
	DriverRevenue      int64   `json:"driver_revenue"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, o *Order, e Event) error {
	payload, err := json.Marshal(lifecycleMessage{
		Event:              e,
		CustomerID:         string(o.CustomerID),
		DriverID:           toStringPtr(o.DriverID),
		VehicleClass:       o.VehicleClass,
		TotalCustomerPrice: o.Fare.TotalCustomerPrice,
		CompanyRevenue:     o.Fare.CompanyRevenue,
		DriverRevenue:      o.Fare.DriverRevenue,
	})
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID),
		Value: payload,
		Time:  e.CreatedAt,
	})
}
