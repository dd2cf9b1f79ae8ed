package shipments

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/broker/messages"
	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
	"github.com/spediware/trackhub/internal/scheduler"
)

type Repository interface {
	CreateOrGetShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error)
	GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error)
	ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error)
	RequestRefresh(ctx context.Context, shipmentID uint64) error
	Archive(ctx context.Context, shipmentID uint64) error
}

type Cache interface {
	GetShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, bool, error)
	SetShipment(ctx context.Context, sh *models.Shipment, ttl time.Duration) error
	InvalidateShipment(ctx context.Context, shipmentID uint64) error
}

// Refresher is the on-demand refresh path shared with the background
// scheduler; it reports scheduler.ErrRefreshPending when one is in flight.
type Refresher interface {
	RefreshOnDemand(ctx context.Context, shipmentID uint64) error
}

type CarrierRegistry interface {
	Get(code string) (carriers.Client, error)
	QuoteAll(ctx context.Context, req carriers.QuoteRequest) ([]carriers.Quote, []error)
}

type Service struct {
	repo      Repository
	cache     Cache
	registry  CarrierRegistry
	refresher Refresher

	cacheTTL time.Duration
	// syncRefreshTimeout bounds the optional carrier call made during
	// creation; zero disables it and new shipments wait for the scheduler.
	syncRefreshTimeout time.Duration
}

func New(repo Repository, cache Cache, registry CarrierRegistry, refresher Refresher, cacheTTL, syncRefreshTimeout time.Duration) *Service {
	return &Service{
		repo:               repo,
		cache:              cache,
		registry:           registry,
		refresher:          refresher,
		cacheTTL:           cacheTTL,
		syncRefreshTimeout: syncRefreshTimeout,
	}
}

// CreateShipments registers shipments for tracking. Creation is idempotent on
// (carrier, tracking number). When a synchronous refresh is enabled, a first
// status is fetched inline best-effort; a slow or busy carrier never fails
// the create.
func (s *Service) CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	if len(items) == 0 {
		return nil, carriers.NewError("", carriers.KindInvalidRequest, "items is empty")
	}
	if len(items) > 1000 {
		return nil, carriers.NewError("", carriers.KindInvalidRequest, "too many items (max 1000)")
	}

	clean := make([]models.ShipmentCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, err := s.registry.Get(it.CarrierCode); err != nil {
			return nil, err
		}
		if err := carriers.ValidateTrackingNumber(it.CarrierCode, it.TrackingNumber); err != nil {
			return nil, err
		}
		k := fmt.Sprintf("%s|%s", it.CarrierCode, it.TrackingNumber)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, it)
	}

	created, err := s.repo.CreateOrGetShipments(ctx, clean)
	if err != nil {
		return nil, err
	}

	if s.refresher == nil || s.syncRefreshTimeout <= 0 {
		return created, nil
	}

	refreshed := false
	for _, sh := range created {
		if sh.LastRefreshAt != nil {
			continue // existed before this call, the scheduler owns it
		}
		rctx, cancel := context.WithTimeout(ctx, s.syncRefreshTimeout)
		err := s.refresher.RefreshOnDemand(rctx, sh.ID)
		cancel()
		if err == nil {
			refreshed = true
		}
	}
	if !refreshed {
		return created, nil
	}

	ids := make([]uint64, 0, len(created))
	for _, sh := range created {
		ids = append(ids, sh.ID)
	}
	got, err := s.repo.GetShipmentsByIDs(ctx, ids)
	if err != nil {
		// The shipments exist; return the pre-refresh snapshots.
		return created, nil
	}
	s.fillCache(ctx, got)
	return got, nil
}

// GetShipment reads one shipment, cache first.
func (s *Service) GetShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		if sh, ok, err := s.cache.GetShipment(ctx, shipmentID); err == nil && ok {
			return sh, nil
		}
	}
	got, err := s.repo.GetShipmentsByIDs(ctx, []uint64{shipmentID})
	if err != nil {
		return nil, err
	}
	if len(got) == 0 {
		return nil, carriers.NewError("", carriers.KindNotFound, fmt.Sprintf("shipment %d not found", shipmentID))
	}
	s.fillCache(ctx, got)
	return got[0], nil
}

func (s *Service) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if shipmentID == 0 {
		return nil, carriers.NewError("", carriers.KindInvalidRequest, "shipment id is required")
	}
	return s.repo.ListShipmentEvents(ctx, shipmentID, limit, offset)
}

// RefreshShipment forces an immediate refresh. When another refresh is
// already in flight it returns the stored shipment together with
// scheduler.ErrRefreshPending so the caller can report "pending" instead of
// failing.
func (s *Service) RefreshShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	if shipmentID == 0 {
		return nil, carriers.NewError("", carriers.KindInvalidRequest, "shipment id is required")
	}
	if s.refresher == nil {
		// No inline pipeline in this process; mark it due and let the
		// worker pick it up.
		if err := s.repo.RequestRefresh(ctx, shipmentID); err != nil {
			return nil, err
		}
		sh, err := s.reload(ctx, shipmentID)
		if err != nil {
			return nil, err
		}
		return sh, scheduler.ErrRefreshPending
	}

	refreshErr := s.refresher.RefreshOnDemand(ctx, shipmentID)
	if refreshErr != nil && !errors.Is(refreshErr, scheduler.ErrRefreshPending) {
		if carriers.KindOf(refreshErr) == carriers.KindNotFound {
			return nil, refreshErr
		}
		// The attempt ran and failed; the store already recorded it.
	}

	sh, err := s.reload(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if refreshErr != nil && errors.Is(refreshErr, scheduler.ErrRefreshPending) {
		return sh, scheduler.ErrRefreshPending
	}
	return sh, nil
}

// ArchiveShipment closes a shipment; the scheduler stops refreshing it.
func (s *Service) ArchiveShipment(ctx context.Context, shipmentID uint64) error {
	if shipmentID == 0 {
		return carriers.NewError("", carriers.KindInvalidRequest, "shipment id is required")
	}
	if err := s.repo.Archive(ctx, shipmentID); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateShipment(ctx, shipmentID)
	}
	return nil
}

// Quote fans a quote request out to every configured carrier that quotes.
func (s *Service) Quote(ctx context.Context, req carriers.QuoteRequest) ([]carriers.Quote, []error) {
	if err := carriers.ValidateQuoteRequest("", req); err != nil {
		return nil, []error{err}
	}
	return s.registry.QuoteAll(ctx, req)
}

// ApplyFeedUpdate handles one shipment.updated message from the worker. The
// worker already wrote the store; the API side only refreshes its cache.
func (s *Service) ApplyFeedUpdate(ctx context.Context, msg messages.ShipmentUpdated) error {
	if msg.ShipmentID == 0 {
		return errors.New("shipment_id is required")
	}
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil
	}
	got, err := s.repo.GetShipmentsByIDs(ctx, []uint64{msg.ShipmentID})
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return s.cache.InvalidateShipment(ctx, msg.ShipmentID)
	}
	return s.cache.SetShipment(ctx, got[0], s.cacheTTL)
}

func (s *Service) reload(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	got, err := s.repo.GetShipmentsByIDs(ctx, []uint64{shipmentID})
	if err != nil {
		return nil, err
	}
	if len(got) == 0 {
		return nil, carriers.NewError("", carriers.KindNotFound, fmt.Sprintf("shipment %d not found", shipmentID))
	}
	s.fillCache(ctx, got)
	return got[0], nil
}

func (s *Service) fillCache(ctx context.Context, shs []*models.Shipment) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	for _, sh := range shs {
		_ = s.cache.SetShipment(ctx, sh, s.cacheTTL)
	}
}
