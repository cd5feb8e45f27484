package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaPublisher fans order lifecycle events and driver location pings
// out to their respective topics. Order events are keyed by order id and
// locations by driver id so each stream stays ordered per entity.
type KafkaPublisher struct {
	orders    *kafka.Writer
	locations *kafka.Writer
}

func NewKafkaPublisher(brokers []string, orderTopic, locationTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		orders:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: orderTopic, Balancer: &kafka.LeastBytes{}}),
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (k *KafkaPublisher) PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.orders.WriteMessages(ctx, kafka.Message{Key: []byte(ev.OrderID), Value: b})
}

func (k *KafkaPublisher) PublishDriverLocation(ctx context.Context, loc models.DriverLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	var first error
	for _, w := range []*kafka.Writer{k.orders, k.locations} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
