package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestRedisStreamIntegration requires a running Redis on localhost.
func TestRedisStreamIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	list := "flowpay:test:events:" + time.Now().Format("150405.000000")
	stream := NewRedisStreamWithClient(client, list, 200*time.Millisecond)
	defer stream.Close()
	defer client.Del(ctx, list)

	if err := stream.Publish(ctx, Event{ID: "e1", Topic: TopicJobCreated}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	stop := errors.New("stop")
	consumeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var got Event
	err := stream.Consume(consumeCtx, func(_ context.Context, evt Event) error {
		got = evt
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("unexpected consume result: %v", err)
	}
	if got.ID != "e1" || got.Topic != TopicJobCreated {
		t.Fatalf("unexpected event: %+v", got)
	}
}
