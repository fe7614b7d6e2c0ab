package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryStreamDeliversInOrder(t *testing.T) {
	stream := NewMemoryStream(4)
	ctx := context.Background()

	for i, topic := range []string{TopicJobCreated, TopicProofSubmitted} {
		data, _ := json.Marshal(map[string]int{"n": i})
		if err := stream.Publish(ctx, Event{ID: topic, Topic: topic, Data: data}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var seen []string
	stop := errors.New("stop")
	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := stream.Consume(consumeCtx, func(_ context.Context, evt Event) error {
		seen = append(seen, evt.Topic)
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("unexpected consume result: %v", err)
	}
	if seen[0] != TopicJobCreated || seen[1] != TopicProofSubmitted {
		t.Fatalf("unexpected order: %v", seen)
	}

	var payload map[string]int
	if err := stream.Events()[1].Decode(&payload); err != nil || payload["n"] != 1 {
		t.Fatalf("payload not preserved: %v %v", payload, err)
	}
}

func TestMemoryStreamRetainsOnlyLatest(t *testing.T) {
	stream := NewMemoryStream(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := stream.Publish(ctx, Event{ID: id, Topic: TopicJobCreated}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	evts := stream.Events()
	if len(evts) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(evts))
	}
	for i, want := range []string{"c", "d", "e"} {
		if evts[i].ID != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, evts[i].ID)
		}
	}
}

func TestMemoryStreamRejectsAfterClose(t *testing.T) {
	stream := NewMemoryStream(1)
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stream.Publish(context.Background(), Event{Topic: TopicJobCreated}); err == nil {
		t.Fatalf("expected publish on closed stream to fail")
	}
}

func TestEventDecodeWithoutPayload(t *testing.T) {
	var out map[string]any
	if err := (Event{ID: "x"}).Decode(&out); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
