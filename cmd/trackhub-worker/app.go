package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spediware/trackhub/config"
	"github.com/spediware/trackhub/internal/alerts"
	"github.com/spediware/trackhub/internal/broker/kafka"
	"github.com/spediware/trackhub/internal/cache/rediscache"
	"github.com/spediware/trackhub/internal/carriers/setup"
	"github.com/spediware/trackhub/internal/scheduler"
	"github.com/spediware/trackhub/internal/storage/pgshipments"
)

// workerStore is what the refresh loop needs from the shipment store.
type workerStore interface {
	scheduler.Store
	scheduler.Claimer
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (workerStore, func(), error)
	newProducer    func(cfg *config.Config) scheduler.Producer
	newRateLimiter func(cfg *config.Config) scheduler.RateLimiter
	newClients     func(cfg *config.Config) scheduler.Clients
	newAlertSink   func(cfg *config.Config, p scheduler.Producer) alerts.Sink
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			st, err := pgshipments.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) scheduler.Producer {
			return kafka.NewProducer([]string{cfg.Kafka.Addr()})
		},
		newRateLimiter: func(cfg *config.Config) scheduler.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newClients: func(cfg *config.Config) scheduler.Clients {
			return setup.BuildRegistry(cfg.Carriers)
		},
		newAlertSink: func(cfg *config.Config, p scheduler.Producer) alerts.Sink {
			if p == nil {
				return alerts.NewLogSink(nil)
			}
			return alerts.NewKafkaSink(p)
		},
	}
}

func plannerConfigFrom(hub config.TrackHubConfig) scheduler.PlannerConfig {
	cfg := scheduler.DefaultPlannerConfig()
	if hub.NextCheckCreatedSeconds > 0 {
		cfg.CreatedDelay = time.Duration(hub.NextCheckCreatedSeconds) * time.Second
	}
	if hub.NextCheckInTransitMinSeconds > 0 {
		cfg.InTransitMinDelay = time.Duration(hub.NextCheckInTransitMinSeconds) * time.Second
	}
	if hub.NextCheckInTransitMaxSeconds > 0 {
		cfg.InTransitMaxDelay = time.Duration(hub.NextCheckInTransitMaxSeconds) * time.Second
	}
	if hub.NextCheckOutForDeliverySeconds > 0 {
		cfg.OutForDeliveryDelay = time.Duration(hub.NextCheckOutForDeliverySeconds) * time.Second
	}
	if hub.NextCheckUnknownSeconds > 0 {
		cfg.UnknownDelay = time.Duration(hub.NextCheckUnknownSeconds) * time.Second
	}
	if hub.BackoffBaseSeconds > 0 {
		cfg.BackoffBase = time.Duration(hub.BackoffBaseSeconds) * time.Second
	}
	if hub.BackoffCapSeconds > 0 {
		cfg.BackoffCap = time.Duration(hub.BackoffCapSeconds) * time.Second
	}
	return cfg
}

func buildScheduler(cfg *config.Config, f workerFactories) (*scheduler.Scheduler, func(), error) {
	hub := cfg.TrackHub

	pollInterval := time.Duration(hub.WorkerPollIntervalSeconds) * time.Second
	lease := time.Duration(hub.WorkerLeaseSeconds) * time.Second

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	clients := f.newClients(cfg)
	sink := f.newAlertSink(cfg, producer)
	planner := scheduler.NewPlanner(plannerConfigFrom(hub), nil)

	refresher := scheduler.NewRefresher(store, clients, rl, producer, sink, planner,
		scheduler.RefresherConfig{
			ClaimLease:        lease,
			FailThreshold:     int32(hub.WorkerFailThreshold),
			CarrierRateLimits: setup.RateLimits(cfg.Carriers),
		})

	s := scheduler.New(store, refresher).
		WithSettings(pollInterval, hub.WorkerBatchSize, hub.WorkerConcurrency)
	return s, closeFn, nil
}

func RunWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	s, closeFn, err := buildScheduler(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error {
		return runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: cfg.TrackHub.WorkerHTTPAddr,
			sched:    s,
			cfg:      cfg,
		})
	})
	return g.Wait()
}
