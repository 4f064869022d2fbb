package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/boutique-labs/orders/internal/config"
	kafkax "github.com/boutique-labs/orders/internal/kafka"
	"github.com/boutique-labs/orders/internal/notifier"
	"github.com/boutique-labs/orders/internal/orders"
	"github.com/boutique-labs/orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notifier.Service{
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-notifier",
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")

	consumers := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{orders.TopicOrderCreated, svc.HandleOrderCreated},
		{orders.TopicOrderConfirmation, svc.HandleConfirmation},
		{orders.TopicOrderRefunded, svc.HandleRefunded},
	}

	for _, c := range consumers {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, c.topic, workers)
		topic := c.topic
		handler := c.handler
		go func() {
			log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, topic, workers)
			if err := cons.Start(ctx, handler); err != nil {
				log.Printf("consumer %s exit: %v", topic, err)
				cancel()
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down notifier...")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
