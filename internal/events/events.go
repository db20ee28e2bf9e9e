// Package events publishes domain events for downstream consumers (analytics,
// email, fulfilment). Publishing is best-effort: callers log failures and carry
// on, since the cart or purchase is already committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Topics.
const (
	TopicCartUpdated       = "cart.updated"
	TopicCartCleared       = "cart.cleared"
	TopicCheckoutCompleted = "checkout.completed"
	TopicEvidenceSubmitted = "dispute.evidence_submitted"
)

// Envelope wraps every payload on the wire.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher sends an event keyed for partitioning.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

// === Payloads ===

// CartUpdated is emitted after every persisted cart mutation.
type CartUpdated struct {
	Owner          string   `json:"owner"`
	Op             string   `json:"op"`
	ItemCount      int      `json:"item_count"`
	CodesApplied   []string `json:"codes_applied,omitempty"`
	CodesRemoved   []string `json:"codes_removed,omitempty"`
	OfferCompleted string   `json:"offer_completed,omitempty"`
}

// CartCleared is emitted when a cart is emptied.
type CartCleared struct {
	Owner  string `json:"owner"`
	Reason string `json:"reason"` // "explicit" or "checkout"
}

// CheckoutCompleted is emitted after a submission, even a partial one.
type CheckoutCompleted struct {
	Owner        string   `json:"owner"`
	PurchaseIDs  []string `json:"purchase_ids"`
	FailedItems  []string `json:"failed_items,omitempty"`
	ChargedCents int64    `json:"charged_cents"`
}

// EvidenceSubmitted is emitted after dispute evidence reaches a processor.
type EvidenceSubmitted struct {
	PurchaseID   string   `json:"purchase_id"`
	Processor    string   `json:"processor"`
	DisputeID    string   `json:"dispute_id"`
	StatusCode   int      `json:"status_code"`
	Files        []string `json:"files,omitempty"`
	SkippedFiles []string `json:"skipped_files,omitempty"`
}

func envelope(topic string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	return json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
}

// === Kafka ===

// Kafka publishes to a Kafka cluster with one writer for all topics.
type Kafka struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafka creates a publisher for the given brokers. Topics are created on
// first write when the cluster allows it.
func NewKafka(brokers []string, log *slog.Logger) *Kafka {
	if log == nil {
		log = slog.Default()
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger: log,
	}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, topic, key string, payload any) error {
	data, err := envelope(topic, payload)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	k.logger.Debug("event published", "topic", topic, "key", key)
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// === Noop / Recorder ===

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }
func (Noop) Close() error                                      { return nil }

// Message is an event captured by Recorder.
type Message struct {
	Topic   string
	Key     string
	Payload any
}

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, topic, key string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Payload: payload})
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Messages returns everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Topics returns the topic of each published message, in order.
func (r *Recorder) Topics() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Topic
	}
	return out
}

var (
	_ Publisher = (*Kafka)(nil)
	_ Publisher = Noop{}
	_ Publisher = (*Recorder)(nil)
)
