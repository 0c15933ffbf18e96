package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rizalf/go-pickup-orders/internal/clock"
	"github.com/rizalf/go-pickup-orders/internal/config"
	"github.com/rizalf/go-pickup-orders/internal/fulfill"
	kafkax "github.com/rizalf/go-pickup-orders/internal/kafka"
	"github.com/rizalf/go-pickup-orders/internal/notify"
	"github.com/rizalf/go-pickup-orders/internal/redisx"
)

// registry fans stream events out to one reconciler loop per buyer.
type registry struct {
	ctx context.Context
	kv  notify.KV
	clk clock.Clock

	mu   sync.Mutex
	recs map[string]chan notify.OrderEvent
}

func (r *registry) dispatch(ev notify.OrderEvent) {
	r.mu.Lock()
	ch, ok := r.recs[ev.BuyerID]
	if !ok {
		ch = make(chan notify.OrderEvent, 64)
		r.recs[ev.BuyerID] = ch
		rec := notify.NewReconciler(ev.BuyerID, r.kv, r.clk)
		go rec.Run(r.ctx, ch, 30*time.Second)
		go func(buyerID string) {
			for a := range rec.Alerts() {
				log.Printf("overdue alert buyer=%s order=%s", buyerID, a.OrderID)
			}
		}(ev.BuyerID)
	}
	r.mu.Unlock()

	select {
	case ch <- ev:
	case <-r.ctx.Done():
	}
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := redisx.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	reg := &registry{
		ctx:  ctx,
		kv:   notify.NewRedisKV(rdb),
		clk:  clock.NewSystem(),
		recs: make(map[string]chan notify.OrderEvent),
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, fulfill.TopicOrderEvents, workers)

	handler := func(ctx context.Context, m kafkago.Message) error {
		var env fulfill.Envelope
		if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
			log.Printf("bad envelope at offset %d: %v", m.Offset, err)
			return nil // poison message, commit past it
		}
		seen, err := redisx.MarkSeen(ctx, rdb, group, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		ev, err := notify.DecodeEvent(env)
		if err != nil {
			log.Printf("bad payload event=%s: %v", env.EventID, err)
			return nil
		}
		reg.dispatch(ev)
		return nil
	}

	go func() {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, fulfill.TopicOrderEvents, workers)
		if err := cons.Start(ctx, handler); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down notifier...")
	cancel()
	time.Sleep(500 * time.Millisecond)
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
