package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/abelbrown/ecgmon/internal/history"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishEncodesEntry(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, "ecg-analysis")

	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := history.Entry{BatchID: "b-42", Seq: 42, Text: "normal", Samples: 50, CompletedAt: done}
	if err := k.Publish(context.Background(), entry); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "b-42" {
		t.Errorf("Key = %q, want b-42", msg.Key)
	}
	if !msg.Time.Equal(done) {
		t.Errorf("Time = %v, want %v", msg.Time, done)
	}

	var got history.Entry
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got.Text != "normal" || got.Seq != 42 || got.Samples != 50 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: kafka.LeaderNotAvailable}
	k := newKafka(w, "ecg-analysis")

	err := k.Publish(context.Background(), history.Entry{BatchID: "b"})
	if !errors.Is(err, kafka.LeaderNotAvailable) {
		t.Errorf("Publish() = %v, want wrapped LeaderNotAvailable", err)
	}
}

func TestNewKafkaValidates(t *testing.T) {
	if _, err := NewKafka(nil, "t"); err == nil {
		t.Error("NewKafka without brokers should fail")
	}
	if _, err := NewKafka([]string{"localhost:9092"}, ""); err == nil {
		t.Error("NewKafka without topic should fail")
	}
	k, err := NewKafka([]string{"localhost:9092"}, "t")
	if err != nil {
		t.Fatalf("NewKafka() error: %v", err)
	}
	// kafka.Writer dials lazily, so Close succeeds without a broker
	if err := k.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
