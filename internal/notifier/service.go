// Package notifier consumes order lifecycle events and simulates the
// customer emails the storefront sends. Delivery is a logged stub; the
// orders core treats notifications as fire-and-forget.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/boutique-labs/orders/internal/kafka"
	"github.com/boutique-labs/orders/internal/orders"
	"github.com/boutique-labs/orders/internal/redisx"
)

type Service struct {
	Redis       *redis.Client
	ServiceName string
}

// HandleOrderCreated sends the order-received email once per order.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	env, ok, err := s.decode(m, orders.EventOrderCreated)
	if err != nil || !ok {
		return err
	}
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	if s.seen(ctx, p.OrderNumber+":created") {
		return nil
	}
	log.Printf("[email] order received: order=%s to=%s total_cents=%d",
		p.OrderNumber, p.CustomerEmail, p.TotalCents)
	return nil
}

// HandleConfirmation sends the confirmation email. Repeated confirm calls
// for the same order collapse into one send.
func (s *Service) HandleConfirmation(ctx context.Context, m kafkago.Message) error {
	env, ok, err := s.decode(m, orders.EventConfirmationRequested)
	if err != nil || !ok {
		return err
	}
	p, err := kafkax.UnwrapPayload[orders.ConfirmationPayload](env.Payload)
	if err != nil {
		return err
	}
	if s.seen(ctx, p.OrderNumber+":confirmation") {
		return nil
	}
	log.Printf("[email] confirmation: order=%s to=%s", p.OrderNumber, p.CustomerEmail)
	return nil
}

// HandleRefunded sends the refund notice.
func (s *Service) HandleRefunded(ctx context.Context, m kafkago.Message) error {
	env, ok, err := s.decode(m, orders.EventOrderRefunded)
	if err != nil || !ok {
		return err
	}
	p, err := kafkax.UnwrapPayload[orders.RefundedPayload](env.Payload)
	if err != nil {
		return err
	}
	if s.seen(ctx, p.OrderNumber+":refunded") {
		return nil
	}
	log.Printf("[email] refund issued: order=%s to=%s total_cents=%d",
		p.OrderNumber, p.CustomerEmail, p.TotalCents)
	return nil
}

func (s *Service) decode(m kafkago.Message, wantType string) (orders.Envelope, bool, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, false, err
	}
	if env.EventType != wantType {
		return env, false, nil
	}
	return env, true, nil
}

// seen marks the phase handled and reports whether it already was. Redis
// being down degrades to at-least-once sends, which is fine for a stub.
func (s *Service) seen(ctx context.Context, phase string) bool {
	key := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, phase)
	ok, err := s.Redis.SetNX(ctx, key, "1", redisx.TTLDedup).Result()
	if err != nil {
		return false
	}
	return !ok
}
