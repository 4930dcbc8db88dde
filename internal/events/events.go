// Package events publishes periodic ingest cycle outcomes.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// CycleEvent describes one finished ingest cycle.
type CycleEvent struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Sensors   int       `json:"sensors"`
	Inserted  int       `json:"inserted"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// Publisher delivers cycle events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev CycleEvent) error
	Close() error
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CycleEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a single topic, keyed by run id.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev CycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RunID),
		Value: payload,
		Time:  ev.StartedAt,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
			{Key: "inserted", Value: []byte(strconv.Itoa(ev.Inserted))},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// New returns a Kafka publisher when brokers are set and a no-op otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
