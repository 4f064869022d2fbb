package notifier

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/boutique-labs/orders/internal/kafka"
	"github.com/boutique-labs/orders/internal/orders"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func envelope(eventType string, payload any) kafkago.Message {
	ev := orders.Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "test",
		Payload:      kafkax.MustMarshal(payload),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(ev)}
}

func TestHandleConfirmation_Dedup(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()

	svc := &Service{Redis: client, ServiceName: "notifier-test-" + uuid.NewString()[:8]}

	orderNum := "ORD-" + uuid.NewString()[:13]
	msg := envelope(orders.EventConfirmationRequested, orders.ConfirmationPayload{
		OrderNumber:   orderNum,
		CustomerEmail: "ada@example.com",
	})

	if err := svc.HandleConfirmation(ctx, msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Replays commit cleanly; the dedup key swallows the send.
	if err := svc.HandleConfirmation(ctx, msg); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if svc.seen(ctx, orderNum+":confirmation") != true {
		t.Fatalf("expected dedup key to be present")
	}
}

func TestHandlersIgnoreForeignEventTypes(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()

	svc := &Service{Redis: client, ServiceName: "notifier-test-" + uuid.NewString()[:8]}

	msg := envelope("SomethingElse", map[string]string{"order_id": "ORD-1"})
	if err := svc.HandleOrderCreated(ctx, msg); err != nil {
		t.Fatalf("expected foreign event to be ignored, got %v", err)
	}
	if err := svc.HandleRefunded(ctx, msg); err != nil {
		t.Fatalf("expected foreign event to be ignored, got %v", err)
	}
}

func TestHandleOrderCreated_BadPayload(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()

	svc := &Service{Redis: client, ServiceName: "notifier-test-" + uuid.NewString()[:8]}

	if err := svc.HandleOrderCreated(ctx, kafkago.Message{Value: []byte("{")}); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}
