package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spediware/trackhub/config"
	"github.com/spediware/trackhub/internal/scheduler"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	sched *scheduler.Scheduler
	cfg   *config.Config
}

// runWorkerHTTPServer exposes the worker's operational endpoints: health,
// stats, manual cycle trigger and the effective (secret-free) settings.
func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sched == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.sched.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Operational settings only; credentials stay out.
		hub := opts.cfg.TrackHub
		out := map[string]any{
			"pollIntervalSeconds":          hub.WorkerPollIntervalSeconds,
			"batchSize":                    hub.WorkerBatchSize,
			"concurrency":                  hub.WorkerConcurrency,
			"leaseSeconds":                 hub.WorkerLeaseSeconds,
			"failThreshold":                hub.WorkerFailThreshold,
			"nextCheckCreatedSeconds":      hub.NextCheckCreatedSeconds,
			"nextCheckInTransitMinSeconds": hub.NextCheckInTransitMinSeconds,
			"nextCheckInTransitMaxSeconds": hub.NextCheckInTransitMaxSeconds,
			"nextCheckUnknownSeconds":      hub.NextCheckUnknownSeconds,
			"backoffBaseSeconds":           hub.BackoffBaseSeconds,
			"backoffCapSeconds":            hub.BackoffCapSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sched == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		opts.sched.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
