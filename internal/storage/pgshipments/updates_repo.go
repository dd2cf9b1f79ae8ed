package pgshipments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/models"
)

// RefreshSuccess carries the outcome of a successful carrier refresh.
// Status must already be the monotonic-advanced value; the store applies it
// verbatim.
type RefreshSuccess struct {
	ShipmentID  uint64
	RefreshedAt time.Time

	Status    string
	StatusRaw string
	StatusAt  *time.Time

	NextCheckAt time.Time
	Payload     []byte

	Events []*models.ShipmentEvent
}

func (s *Storage) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, status, status_raw,
  event_time, location, message, payload, created_at
FROM shipment_events
WHERE shipment_id = $1
ORDER BY event_time DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.ShipmentEvent
	for rows.Next() {
		var e models.ShipmentEvent
		var location *string
		var message *string
		var payload any
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.Status, &e.StatusRaw,
			&e.EventTime, &location, &message, &payload, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}

		e.Location = location
		e.Message = message

		if payload != nil {
			b, _ := json.Marshal(payload)
			s := string(b)
			e.PayloadJSON = &s
		}

		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyRefreshSuccess stores a refresh result: new status, raw payload,
// events (deduplicated), fail counter reset, claim released.
func (s *Storage) ApplyRefreshSuccess(ctx context.Context, upd RefreshSuccess) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var payload any
	if len(upd.Payload) > 0 && json.Valid(upd.Payload) {
		payload = upd.Payload
	}

	_, err = tx.Exec(ctx, `
UPDATE shipments
SET
  status = $3,
  status_raw = $4,
  status_at = $5,
  last_refresh_at = $2,
  next_check_at = $6,
  last_payload = COALESCE($7, last_payload),
  fail_count = 0,
  last_error = NULL,
  claimed_until = NULL,
  updated_at = now()
WHERE id = $1
`, upd.ShipmentID, upd.RefreshedAt.UTC(), upd.Status, upd.StatusRaw, upd.StatusAt, upd.NextCheckAt.UTC(), payload)
	if err != nil {
		return errors.Wrap(err, "update shipment (ok)")
	}

	for _, e := range upd.Events {
		var evPayload any
		if e.PayloadJSON != nil && *e.PayloadJSON != "" {
			var m any
			if json.Unmarshal([]byte(*e.PayloadJSON), &m) == nil {
				evPayload = m
			}
		}

		loc := ""
		if e.Location != nil {
			loc = *e.Location
		}
		msgText := ""
		if e.Message != nil {
			msgText = *e.Message
		}

		_, err := tx.Exec(ctx, `
INSERT INTO shipment_events (
  shipment_id, status, status_raw, event_time, location, message, payload, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (shipment_id, status_raw, event_time, location, message) DO NOTHING
`, upd.ShipmentID, e.Status, e.StatusRaw, e.EventTime.UTC(), loc, msgText, evPayload)
		if err != nil {
			return errors.Wrap(err, "insert shipment event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// ApplyRefreshFailure records a failed refresh attempt: counter up, backoff
// applied to next_check_at, stored status and payload untouched, claim
// released.
func (s *Storage) ApplyRefreshFailure(ctx context.Context, shipmentID uint64, refreshedAt time.Time, errMsg string, nextCheckAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  last_refresh_at = $2,
  fail_count = fail_count + 1,
  last_error = $3,
  next_check_at = $4,
  claimed_until = NULL,
  updated_at = now()
WHERE id = $1
`, shipmentID, refreshedAt.UTC(), errMsg, nextCheckAt.UTC())
	return errors.Wrap(err, "update shipment (failure)")
}

// MarkException moves a shipment into the terminal EXCEPTION status after a
// non-recoverable failure. The prior status survives in status_raw.
func (s *Storage) MarkException(ctx context.Context, shipmentID uint64, errMsg string) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  status = $2,
  last_error = $3,
  claimed_until = NULL,
  updated_at = now()
WHERE id = $1
  AND status NOT IN ($4, $5)
`, shipmentID, models.StatusException, errMsg, models.StatusDelivered, models.StatusClosed)
	return errors.Wrap(err, "mark exception")
}
