package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spediware/trackhub/config"
	"github.com/spediware/trackhub/internal/alerts"
	"github.com/spediware/trackhub/internal/broker/kafka"
	"github.com/spediware/trackhub/internal/broker/messages"
	"github.com/spediware/trackhub/internal/cache/rediscache"
	"github.com/spediware/trackhub/internal/carriers/setup"
	"github.com/spediware/trackhub/internal/scheduler"
	"github.com/spediware/trackhub/internal/services/shipments"
	"github.com/spediware/trackhub/internal/storage/pgshipments"
)

type apiApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     apiOpts
	svc      *shipments.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapAPI() *apiApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config load failed: %v", err))
	}

	httpAddr := cfg.TrackHub.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.TrackHub.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "trackhub-api"
	}
	cacheTTL := time.Duration(cfg.TrackHub.ShipmentCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	syncRefreshTimeout := time.Duration(cfg.TrackHub.SyncRefreshTimeoutSeconds) * time.Second
	if syncRefreshTimeout <= 0 {
		syncRefreshTimeout = 10 * time.Second
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	rc := rediscache.New(cfg.Redis.Addr())
	rl := rediscache.NewRateLimiter(cfg.Redis.Addr())

	registry := setup.BuildRegistry(cfg.Carriers)

	brokers := []string{cfg.Kafka.Addr()}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, messages.TopicShipmentUpdated, consumerGroup)

	// The on-demand refresh path shares the worker's pipeline: same locks,
	// same claims, same failure bookkeeping, published to the same feed.
	refresher := scheduler.NewRefresher(st, registry, rl, producer,
		alerts.NewKafkaSink(producer), nil, scheduler.RefresherConfig{
			FailThreshold:     int32(cfg.TrackHub.WorkerFailThreshold),
			CarrierRateLimits: setup.RateLimits(cfg.Carriers),
		})

	svc := shipments.New(st, rc, registry, refresher, cacheTTL, syncRefreshTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &apiApp{
		ctx:    ctx,
		cancel: cancel,
		opts: apiOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         messages.TopicShipmentUpdated,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipments.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipments.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *apiApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *apiApp) Run() error {
	return runAPIServer(a.ctx, a.opts, a.svc, a.consumer)
}
