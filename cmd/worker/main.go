package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-engine/internal/config"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/logx"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/postgres"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/ariefcatur/go-order-engine/internal/reservation"
	"github.com/ariefcatur/go-order-engine/internal/statuscache"
	"github.com/ariefcatur/go-order-engine/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.ServiceName+"-worker", os.Getenv("LOG_LEVEL"))
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for expiry events
	pExpired := kafkax.NewProducer(cfg.KafkaBrokers, order.TopicReservationExpired, 1024)
	pExpired.Start(ctx)

	// Expiry sweep
	reservations := reservation.NewManager(db, stock.NewLedger(), cfg.ReservationTTL, log)
	sweeper := &reservation.Sweeper{
		Manager:  reservations,
		Interval: cfg.SweepInterval,
		Producer: pExpired,
		Service:  cfg.ServiceName + "-worker",
		Log:      log,
	}

	// Status cache projection over every lifecycle topic
	cache := &statuscache.Service{Redis: rdb, Name: cfg.ServiceName + "-worker", Log: log}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	for _, topic := range order.Topics() {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topic, cfg.ConsumerWorkers, log)
		log.Info("consumer started",
			zap.String("group", cfg.ConsumerGroup),
			zap.String("topic", topic),
			zap.Int("workers", cfg.ConsumerWorkers))
		g.Go(func() error { return cons.Start(gctx, cache.HandleEvent) })
	}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down worker")
	case <-gctx.Done():
		log.Warn("worker group exited", zap.Error(gctx.Err()))
	}
	cancel()

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Warn("worker stopped", zap.Error(err))
	}
	time.Sleep(500 * time.Millisecond)
	pExpired.Close()
	pExpired.WaitClosed()
}
