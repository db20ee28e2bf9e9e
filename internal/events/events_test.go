package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestEnvelope(t *testing.T) {
	data, err := envelope(TopicCartCleared, CartCleared{Owner: "user:1", Reason: "checkout"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Topic != TopicCartCleared || env.ID == "" || env.OccurredAt.IsZero() {
		t.Errorf("envelope = %+v", env)
	}

	var payload CartCleared
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Reason != "checkout" {
		t.Errorf("Reason = %q", payload.Reason)
	}
}

func TestEnvelopeRejectsUnmarshalable(t *testing.T) {
	if _, err := envelope("x", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	r.Publish(ctx, TopicCartUpdated, "k", CartUpdated{Op: "add"})
	r.Publish(ctx, TopicCartCleared, "k", CartCleared{})

	topics := r.Topics()
	if len(topics) != 2 || topics[0] != TopicCartUpdated || topics[1] != TopicCartCleared {
		t.Errorf("Topics = %v", topics)
	}

	r.Err = errors.New("broker down")
	if err := r.Publish(ctx, TopicCartUpdated, "k", nil); err == nil {
		t.Error("expected configured error")
	}
	if len(r.Messages()) != 2 {
		t.Error("failed publish should not be recorded")
	}
}
