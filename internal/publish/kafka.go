// Package publish forwards completed summaries to external consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/abelbrown/ecgmon/internal/history"
	"github.com/abelbrown/ecgmon/internal/logging"
)

// messageWriter is the part of *kafka.Writer Kafka uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultWriteTimeout bounds a single publish.
const DefaultWriteTimeout = 5 * time.Second

// Kafka publishes history entries as JSON, keyed by batch ID.
type Kafka struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka: no topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{}, // same batch ID, same partition
		BatchTimeout: 50 * time.Millisecond,
	}
	logging.Info("Kafka publisher ready", "brokers", brokers, "topic", topic)
	return newKafka(w, topic), nil
}

func newKafka(w messageWriter, topic string) *Kafka {
	return &Kafka{writer: w, topic: topic, timeout: DefaultWriteTimeout}
}

// Publish writes e. Safe for concurrent use.
func (k *Kafka) Publish(ctx context.Context, e history.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: marshal entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.BatchID),
		Value: data,
		Time:  e.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: write to %s: %w", k.topic, err)
	}
	logging.Debug("Published analysis", "topic", k.topic, "batch", e.BatchID, "seq", e.Seq)
	return nil
}

// Close flushes pending writes and releases the connection.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
