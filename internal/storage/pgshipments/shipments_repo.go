package pgshipments

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/models"
)

const (
	defaultInitialStatus    = models.StatusCreated
	defaultInitialStatusRaw = "CREATED"
)

const shipmentColumns = `
  id, carrier_code, tracking_number,
  status, status_raw,
  status_at, last_refresh_at, next_check_at,
  fail_count, last_error, last_payload,
  created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	if err := row.Scan(
		&sh.ID, &sh.CarrierCode, &sh.TrackingNumber,
		&sh.Status, &sh.StatusRaw,
		&sh.StatusAt, &sh.LastRefreshAt, &sh.NextCheckAt,
		&sh.FailCount, &sh.LastError, &sh.LastPayload,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) CreateOrGetShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO shipments (
  carrier_code, tracking_number, status, status_raw, next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (carrier_code, tracking_number)
DO UPDATE SET updated_at = shipments.updated_at
RETURNING id
`, it.CarrierCode, it.TrackingNumber, defaultInitialStatus, defaultInitialStatusRaw, now, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert shipment")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetShipmentsByIDs(ctx, ids)
}

func (s *Storage) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0, len(ids))
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// RequestRefresh makes a shipment due immediately; the next scheduler cycle
// (or an on-demand claim) picks it up.
func (s *Storage) RequestRefresh(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx, `UPDATE shipments SET next_check_at = now(), updated_at = now() WHERE id = $1`, shipmentID)
	return errors.Wrap(err, "request refresh")
}

// Archive closes a shipment. Shipments are never deleted; CLOSED parks them
// out of every claim query permanently.
func (s *Storage) Archive(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET status = $2, status_raw = $2, claimed_until = NULL, updated_at = now()
WHERE id = $1
`, shipmentID, models.StatusClosed)
	return errors.Wrap(err, "archive shipment")
}

// ClaimDueShipments picks a batch of shipments ready for refresh and marks
// them in-flight (claimed_until), so that concurrent workers do not
// double-process. SELECT ... FOR UPDATE SKIP LOCKED covers racing claimers;
// claimed_until covers the window while the carrier call is running.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration, failThreshold int32) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE next_check_at <= $1
  AND status NOT IN ($2, $3, $4)
  AND fail_count < $5
  AND (claimed_until IS NULL OR claimed_until <= $1)
ORDER BY next_check_at ASC
LIMIT $6
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.StatusDelivered, models.StatusException, models.StatusClosed, failThreshold, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, sh)
	}
	if rows.Err() != nil {
		rows.Close()
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	claimUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		_, err := tx.Exec(ctx, `UPDATE shipments SET claimed_until = $2, updated_at = now() WHERE id = $1`, sh.ID, claimUntil)
		if err != nil {
			return nil, errors.Wrap(err, "claim shipment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ClaimShipment takes the in-flight claim for a single shipment regardless
// of its due time (on-demand refresh). It reports claimed=false when the
// shipment is already in-flight elsewhere or is terminal.
func (s *Storage) ClaimShipment(ctx context.Context, shipmentID uint64, now time.Time, lease time.Duration) (*models.Shipment, bool, error) {
	row := s.db.QueryRow(ctx, `
UPDATE shipments
SET claimed_until = $2, updated_at = now()
WHERE id = $1
  AND status NOT IN ($3, $4)
  AND (claimed_until IS NULL OR claimed_until <= $5)
RETURNING`+shipmentColumns,
		shipmentID, now.UTC().Add(lease),
		models.StatusDelivered, models.StatusClosed, now.UTC())

	sh, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "claim shipment")
	}
	return sh, true, nil
}

// ReleaseClaim drops the in-flight claim without touching anything else.
// Used when a claimed shipment is skipped before any carrier call is made
// (local rate limit, in-process lock contention).
func (s *Storage) ReleaseClaim(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx, `UPDATE shipments SET claimed_until = NULL, updated_at = now() WHERE id = $1`, shipmentID)
	return errors.Wrap(err, "release claim")
}
