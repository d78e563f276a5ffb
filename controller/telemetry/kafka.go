package telemetry

import (
	"context"
	"encoding/json"

	"github.com/hydropi/hydropi/controller"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka streams every decision record, keyed by cycle id.
type Kafka struct {
	w messageWriter
}

func NewKafka(cfg controller.KafkaConfig) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, rec controller.DecisionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ID),
		Value: b,
		Time:  rec.Time,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(rec.Outcome)},
		},
	})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
