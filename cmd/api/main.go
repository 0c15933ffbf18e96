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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rizalf/go-pickup-orders/internal/clock"
	"github.com/rizalf/go-pickup-orders/internal/config"
	"github.com/rizalf/go-pickup-orders/internal/fulfill"
	"github.com/rizalf/go-pickup-orders/internal/httpx"
	kafkax "github.com/rizalf/go-pickup-orders/internal/kafka"
	"github.com/rizalf/go-pickup-orders/internal/postgres"
	"github.com/rizalf/go-pickup-orders/internal/redisx"
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
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Redis
	rdb, err := redisx.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, fulfill.TopicOrderEvents, 1024)
	prod.Start(ctx)

	// Engine & handler
	store := postgres.NewStore(db)
	svc := fulfill.NewService(store, clock.NewSystem(), kafkax.NewSink(prod), cfg.ServiceName)

	reg := prometheus.NewRegistry()
	router := httpx.NewRouter(reg)
	h := httpx.NewFulfillmentHandler(svc, rdb, httpx.NewMetrics(reg))
	h.Register(router)

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
	prod.Close() // close inbox -> flush & close writer
	prod.WaitClosed()
}
