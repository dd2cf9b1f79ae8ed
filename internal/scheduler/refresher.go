package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/alerts"
	"github.com/spediware/trackhub/internal/broker/messages"
	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
	"github.com/spediware/trackhub/internal/normalize"
	"github.com/spediware/trackhub/internal/storage/pgshipments"
)

// ErrRefreshPending is returned when a refresh cannot start because another
// one is already in flight for the same shipment. Callers surface the last
// stored status with a refresh-pending indicator.
var ErrRefreshPending = errors.New("refresh already pending")

type Store interface {
	GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error)
	ClaimShipment(ctx context.Context, shipmentID uint64, now time.Time, lease time.Duration) (*models.Shipment, bool, error)
	ReleaseClaim(ctx context.Context, shipmentID uint64) error
	ApplyRefreshSuccess(ctx context.Context, upd pgshipments.RefreshSuccess) error
	ApplyRefreshFailure(ctx context.Context, shipmentID uint64, refreshedAt time.Time, errMsg string, nextCheckAt time.Time) error
	MarkException(ctx context.Context, shipmentID uint64, errMsg string) error
}

type Clients interface {
	Get(code string) (carriers.Client, error)
}

type RateLimiter interface {
	AllowCarrier(ctx context.Context, carrierCode string, limitPerMinute int64) (bool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RefresherConfig struct {
	// AttemptTimeout bounds one carrier call. Past it the attempt is
	// abandoned and recorded as a Timeout failure.
	AttemptTimeout time.Duration
	// ClaimLease bounds the store-backed in-flight claim.
	ClaimLease time.Duration
	// FailThreshold is the consecutive-failure count at which a shipment
	// is moved to EXCEPTION.
	FailThreshold int32
	// CarrierRateLimits caps outbound calls per carrier per minute;
	// absent or zero means unlimited.
	CarrierRateLimits map[string]int64
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 2 * time.Minute
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 5
	}
	return c
}

// Refresher runs the Carrier Client -> Normalizer -> Store pipeline for one
// shipment at a time. Both the background scheduler and the API's on-demand
// refresh go through here, so the locking and failure rules are applied in
// exactly one place.
type Refresher struct {
	store   Store
	clients Clients
	rl      RateLimiter
	prod    Producer
	alerts  alerts.Sink
	planner *Planner
	locks   *keyLocks
	cfg     RefresherConfig
}

func NewRefresher(store Store, clients Clients, rl RateLimiter, prod Producer, sink alerts.Sink, planner *Planner, cfg RefresherConfig) *Refresher {
	if planner == nil {
		planner = DefaultPlanner()
	}
	if sink == nil {
		sink = alerts.Noop{}
	}
	return &Refresher{
		store:   store,
		clients: clients,
		rl:      rl,
		prod:    prod,
		alerts:  sink,
		planner: planner,
		locks:   newKeyLocks(),
		cfg:     cfg.withDefaults(),
	}
}

// RefreshClaimed processes a shipment the scheduler has already claimed in
// the store. Lock contention inside the process releases the claim and
// reports ErrRefreshPending; the shipment waits for a later cycle.
func (r *Refresher) RefreshClaimed(ctx context.Context, sh *models.Shipment) error {
	key := sh.Key()
	if !r.locks.TryAcquire(key) {
		_ = r.store.ReleaseClaim(ctx, sh.ID)
		return ErrRefreshPending
	}
	defer r.locks.Release(key)
	return r.refreshOne(ctx, sh)
}

// RefreshOnDemand bypasses due-time eligibility but honors both the
// in-process lock and the store claim, so it can never race a scheduled
// refresh of the same shipment.
func (r *Refresher) RefreshOnDemand(ctx context.Context, shipmentID uint64) error {
	got, err := r.store.GetShipmentsByIDs(ctx, []uint64{shipmentID})
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return carriers.NewError("", carriers.KindNotFound, fmt.Sprintf("shipment %d not found", shipmentID))
	}
	sh := got[0]

	key := sh.Key()
	if !r.locks.TryAcquire(key) {
		return ErrRefreshPending
	}
	defer r.locks.Release(key)

	claimed, ok, err := r.store.ClaimShipment(ctx, shipmentID, time.Now().UTC(), r.cfg.ClaimLease)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRefreshPending
	}
	return r.refreshOne(ctx, claimed)
}

func (r *Refresher) refreshOne(ctx context.Context, sh *models.Shipment) error {
	now := time.Now().UTC()

	if r.rl != nil {
		limit := r.cfg.CarrierRateLimits[sh.CarrierCode]
		allowed, err := r.rl.AllowCarrier(ctx, sh.CarrierCode, limit)
		if err != nil {
			slog.Warn("rate limiter unavailable, letting the call through", "error", err.Error())
		} else if !allowed {
			// Local throttling is not a carrier failure: release the claim
			// and let a later cycle retry without touching the counter.
			slog.Warn("carrier rate limit reached, deferring", "carrier", sh.CarrierCode, "shipment_id", sh.ID)
			return r.store.ReleaseClaim(ctx, sh.ID)
		}
	}

	client, err := r.clients.Get(sh.CarrierCode)
	if err != nil {
		// No client can ever serve this shipment; park it as EXCEPTION.
		return r.failTerminal(ctx, sh, now, err.Error())
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	raw, err := client.FetchTrackingStatus(attemptCtx, sh.TrackingNumber)
	cancel()
	if err != nil {
		return r.applyFailure(ctx, sh, now, err)
	}

	canonical, err := normalize.Normalize(sh.CarrierCode, raw)
	if err != nil {
		return r.applyFailure(ctx, sh, now, err)
	}

	status := models.AdvanceStatus(sh.Status, canonical.Status)
	upd := pgshipments.RefreshSuccess{
		ShipmentID:  sh.ID,
		RefreshedAt: now,
		Status:      status,
		StatusRaw:   canonical.StatusRaw,
		StatusAt:    canonical.StatusAt,
		NextCheckAt: now.Add(r.planner.NextCheckDelay(status)),
		Payload:     canonical.Payload,
		Events:      canonical.Events,
	}
	if err := r.store.ApplyRefreshSuccess(ctx, upd); err != nil {
		return err
	}

	r.publishUpdated(ctx, sh, messages.ShipmentUpdated{
		ShipmentID:     sh.ID,
		CarrierCode:    sh.CarrierCode,
		TrackingNumber: sh.TrackingNumber,
		RefreshedAt:    now,
		Status:         status,
		StatusRaw:      canonical.StatusRaw,
		StatusAt:       canonical.StatusAt,
		NextCheckAt:    upd.NextCheckAt,
		Events:         feedEvents(canonical.Events),
	})
	return nil
}

func (r *Refresher) applyFailure(ctx context.Context, sh *models.Shipment, now time.Time, cause error) error {
	kind := carriers.KindOf(cause)
	if carriers.IsTerminalKind(kind) {
		return r.failTerminal(ctx, sh, now, cause.Error())
	}

	nextFail := sh.FailCount + 1
	if nextFail >= r.cfg.FailThreshold {
		return r.failTerminal(ctx, sh, now, fmt.Sprintf("%d consecutive failures, last: %s", nextFail, cause.Error()))
	}

	nextCheck := now.Add(r.planner.BackoffDelay(nextFail))
	if err := r.store.ApplyRefreshFailure(ctx, sh.ID, now, cause.Error(), nextCheck); err != nil {
		return err
	}

	e := cause.Error()
	r.publishUpdated(ctx, sh, messages.ShipmentUpdated{
		ShipmentID:     sh.ID,
		CarrierCode:    sh.CarrierCode,
		TrackingNumber: sh.TrackingNumber,
		RefreshedAt:    now,
		NextCheckAt:    nextCheck,
		FailCount:      nextFail,
		Error:          &e,
	})
	return cause
}

func (r *Refresher) failTerminal(ctx context.Context, sh *models.Shipment, now time.Time, reason string) error {
	if err := r.store.MarkException(ctx, sh.ID, reason); err != nil {
		return err
	}
	if err := r.alerts.Notify(ctx, messages.ShipmentAlert{
		ShipmentID:     sh.ID,
		CarrierCode:    sh.CarrierCode,
		TrackingNumber: sh.TrackingNumber,
		Reason:         reason,
		FailCount:      sh.FailCount + 1,
		OccurredAt:     now,
	}); err != nil {
		slog.Error("alert delivery failed", "shipment_id", sh.ID, "error", err.Error())
	}

	e := reason
	r.publishUpdated(ctx, sh, messages.ShipmentUpdated{
		ShipmentID:     sh.ID,
		CarrierCode:    sh.CarrierCode,
		TrackingNumber: sh.TrackingNumber,
		RefreshedAt:    now,
		Status:         models.StatusException,
		NextCheckAt:    now.Add(r.planner.NextCheckDelay(models.StatusException)),
		FailCount:      sh.FailCount + 1,
		Error:          &e,
	})
	return errors.New(reason)
}

func (r *Refresher) publishUpdated(ctx context.Context, sh *models.Shipment, msg messages.ShipmentUpdated) {
	if r.prod == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal feed message", "error", err.Error())
		return
	}
	key := []byte(sh.Key())
	if err := r.prod.Publish(ctx, messages.TopicShipmentUpdated, key, b); err != nil {
		// The store already holds the truth; a lost feed message only delays
		// cache refresh on the API side.
		slog.Error("publish feed message", "shipment_id", sh.ID, "error", err.Error())
	}
}

func feedEvents(events []*models.ShipmentEvent) []messages.ShipmentEvent {
	out := make([]messages.ShipmentEvent, 0, len(events))
	for _, e := range events {
		var payload json.RawMessage
		if e.PayloadJSON != nil && *e.PayloadJSON != "" {
			payload = json.RawMessage(*e.PayloadJSON)
		}
		out = append(out, messages.ShipmentEvent{
			Status:    e.Status,
			StatusRaw: e.StatusRaw,
			EventTime: e.EventTime,
			Location:  e.Location,
			Message:   e.Message,
			Payload:   payload,
		})
	}
	return out
}
