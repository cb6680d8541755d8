package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/config"
	"github.com/ariefcatur/go-order-engine/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/logx"
	"github.com/ariefcatur/go-order-engine/internal/orchestrator"
	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/payment"
	"github.com/ariefcatur/go-order-engine/internal/postgres"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/ariefcatur/go-order-engine/internal/reservation"
	"github.com/ariefcatur/go-order-engine/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.ServiceName+"-api", os.Getenv("LOG_LEVEL"))
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

	// Kafka producers, one per lifecycle topic
	newProducer := func(topic string) *kafkax.Producer {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024)
		p.Start(ctx)
		return p
	}
	pCreated := newProducer(order.TopicOrderCreated)
	pPaid := newProducer(order.TopicOrderPaid)
	pCancelled := newProducer(order.TopicOrderCancelled)
	pRefundReq := newProducer(order.TopicRefundRequested)
	pRefunded := newProducer(order.TopicOrderRefunded)
	producers := []*kafkax.Producer{pCreated, pPaid, pCancelled, pRefundReq, pRefunded}

	// Domain wiring
	ledger := stock.NewLedger()
	reservations := reservation.NewManager(db, ledger, cfg.ReservationTTL, log)
	machine := order.NewMachine(db, log)
	reconciler := payment.NewReconciler(db, reservations, machine, log)

	svc := &orchestrator.Service{
		DB:           db,
		Reservations: reservations,
		Machine:      machine,
		Payments:     reconciler,
		Producers: orchestrator.Producers{
			OrderCreated:    pCreated,
			OrderPaid:       pPaid,
			OrderCancelled:  pCancelled,
			RefundRequested: pRefundReq,
			OrderRefunded:   pRefunded,
		},
		Redis: rdb,
		Name:  cfg.ServiceName,
		Log:   log,
	}

	// Handlers
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Svc: svc, Status: machine, Redis: rdb, Log: log}
	oh.Register(router)
	ph := &httpx.PaymentsHandler{Store: reconciler, Flow: svc, Log: log}
	ph.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // close inbox -> flush & close writer
	}
	cancel() // stop producer loops
	for _, p := range producers {
		p.WaitClosed() // drain
	}
}
