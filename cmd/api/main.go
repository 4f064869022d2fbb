package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/boutique-labs/orders/internal/config"
	"github.com/boutique-labs/orders/internal/httpx"
	"github.com/boutique-labs/orders/internal/inventory"
	kafkax "github.com/boutique-labs/orders/internal/kafka"
	"github.com/boutique-labs/orders/internal/orders"
	"github.com/boutique-labs/orders/internal/postgres"
	"github.com/boutique-labs/orders/internal/redisx"
	"github.com/boutique-labs/orders/migrations"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	pStatus.Start(ctx)
	pRefund := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderRefunded, 1024)
	pRefund.Start(ctx)
	pConfirm := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderConfirmation, 1024)
	pConfirm.Start(ctx)

	// Stores + service
	repo := &orders.Repo{Pool: db}
	ledger := &inventory.Ledger{Pool: db}
	svc := &orders.Service{
		Store:         repo,
		Ledger:        ledger,
		CreatedEvents: pCreated,
		StatusEvents:  pStatus,
		RefundEvents:  pRefund,
		ConfirmEvents: pConfirm,
		ServiceName:   cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Svc: svc, Redis: rdb}
	oh.Register(router)
	ph := &httpx.ProductsHandler{Ledger: ledger, Redis: rdb}
	ph.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pCreated, pStatus, pRefund, pConfirm} {
		p.Close()
	}
	cancel()
	for _, p := range []*kafkax.Producer{pCreated, pStatus, pRefund, pConfirm} {
		p.WaitClosed()
	}
}
