package models

import "time"

// Canonical shipment statuses (carrier-agnostic).
const (
	StatusCreated        = "CREATED"
	StatusInTransit      = "IN_TRANSIT"
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
	StatusException      = "EXCEPTION"
	StatusUnknown        = "UNKNOWN"
	StatusClosed         = "CLOSED"
)

// Supported carrier codes.
const (
	CarrierDHL         = "DHL"
	CarrierUPS         = "UPS"
	CarrierFedEx       = "FEDEX"
	CarrierTNT         = "TNT"
	CarrierSDA         = "SDA"
	CarrierBRT         = "BRT"
	CarrierSpediamoPro = "SPEDIAMOPRO"
)

// statusRank orders the lifecycle: CREATED -> IN_TRANSIT -> OUT_FOR_DELIVERY -> DELIVERED.
// EXCEPTION and CLOSED sit outside the ordering (reachable via AdvanceStatus rules).
var statusRank = map[string]int{
	StatusCreated:        1,
	StatusInTransit:      2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

// IsTerminal reports whether a shipment in this status is no longer refreshed.
func IsTerminal(status string) bool {
	switch status {
	case StatusDelivered, StatusException, StatusClosed:
		return true
	}
	return false
}

// AdvanceStatus returns the status to store given the previously stored status
// and a freshly normalized one. The lifecycle only moves forward:
//   - UNKNOWN never overwrites a known status;
//   - EXCEPTION is reachable from any non-terminal state;
//   - CLOSED is reachable from any state;
//   - a regression along the CREATED..DELIVERED ordering keeps the stored value.
func AdvanceStatus(prev, next string) string {
	if next == StatusClosed {
		return StatusClosed
	}
	if prev == StatusClosed {
		return prev
	}
	if next == StatusException {
		if prev == StatusDelivered {
			return prev
		}
		return StatusException
	}
	if next == StatusUnknown || next == "" {
		if prev == "" {
			return StatusUnknown
		}
		return prev
	}
	pr, pok := statusRank[prev]
	nr, nok := statusRank[next]
	if !nok {
		return prev
	}
	if !pok || nr >= pr {
		return next
	}
	return prev
}

type Shipment struct {
	ID             uint64
	CarrierCode    string
	TrackingNumber string
	Status         string
	StatusRaw      string
	StatusAt       *time.Time
	LastRefreshAt  *time.Time
	NextCheckAt    time.Time
	FailCount      int32
	LastError      *string
	LastPayload    []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key identifies a shipment for in-flight locking: carrier code + tracking number.
func (s *Shipment) Key() string {
	return s.CarrierCode + "|" + s.TrackingNumber
}

type ShipmentEvent struct {
	ID          uint64
	ShipmentID  uint64
	Status      string
	StatusRaw   string
	EventTime   time.Time
	Location    *string
	Message     *string
	PayloadJSON *string
	CreatedAt   time.Time
}

type ShipmentCreateInput struct {
	CarrierCode    string
	TrackingNumber string
}
