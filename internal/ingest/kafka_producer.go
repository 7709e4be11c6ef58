package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaProducer publishes accepted driver location reports keyed by driver,
// so one driver's reports stay ordered within a partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	b, err := EncodeLocation(loc)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b}); err != nil {
		return fmt.Errorf("publish location %s: %w", loc.DriverID, err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// EncodeLocation is the wire format of the driver-locations topic.
func EncodeLocation(loc models.DriverLocation) ([]byte, error) {
	return json.Marshal(loc)
}

// DecodeLocation parses a topic message and rejects reports the relay would
// not have accepted.
func DecodeLocation(b []byte) (models.DriverLocation, error) {
	var loc models.DriverLocation
	if err := json.Unmarshal(b, &loc); err != nil {
		return loc, fmt.Errorf("decode location: %w", err)
	}
	if loc.DriverID == "" {
		return loc, fmt.Errorf("decode location: missing driverId")
	}
	return loc, nil
}
