package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/models"
)

const writeTimeout = 2 * time.Second

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes booking events and driver location pings to their
// topics. Messages are keyed so one booking (or one driver) stays on one
// partition and keeps its order.
type KafkaProducer struct {
	writer        messageWriter
	eventsTopic   string
	locationTopic string
}

func NewKafkaProducer(brokers []string, eventsTopic, locationTopic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, eventsTopic: eventsTopic, locationTopic: locationTopic}
}

func (k *KafkaProducer) Publish(ctx context.Context, e events.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.write(ctx, kafka.Message{Topic: k.eventsTopic, Key: []byte(e.BookingID), Value: b})
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return k.write(ctx, kafka.Message{Topic: k.locationTopic, Key: []byte(loc.ID), Value: b})
}

func (k *KafkaProducer) write(ctx context.Context, m kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, m); err != nil {
		return apperr.Wrap(apperr.Unavailable, err, "kafka write to "+m.Topic)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
