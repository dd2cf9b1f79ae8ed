// Package messages defines the JSON payloads exchanged over the broker.
package messages

import (
	"encoding/json"
	"time"
)

const (
	TopicShipmentUpdated = "shipment.updated"
	TopicShipmentAlerts  = "shipment.alerts"
)

// ShipmentUpdated is published by the worker after every applied refresh,
// successful or not. The API process consumes it to keep its redis cache
// in step with the store.
type ShipmentUpdated struct {
	ShipmentID     uint64    `json:"shipment_id"`
	CarrierCode    string    `json:"carrier_code"`
	TrackingNumber string    `json:"tracking_number"`
	RefreshedAt    time.Time `json:"refreshed_at"`

	Status    string     `json:"status,omitempty"`
	StatusRaw string     `json:"status_raw,omitempty"`
	StatusAt  *time.Time `json:"status_at,omitempty"`

	NextCheckAt time.Time `json:"next_check_at"`
	FailCount   int32     `json:"fail_count"`

	Events []ShipmentEvent `json:"events,omitempty"`

	Error *string `json:"error,omitempty"`
}

type ShipmentEvent struct {
	Status    string          `json:"status"`
	StatusRaw string          `json:"status_raw"`
	EventTime time.Time       `json:"event_time"`
	Location  *string         `json:"location,omitempty"`
	Message   *string         `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ShipmentAlert goes to the operator alert topic when a shipment is moved
// to EXCEPTION by the refresh pipeline.
type ShipmentAlert struct {
	ShipmentID     uint64    `json:"shipment_id"`
	CarrierCode    string    `json:"carrier_code"`
	TrackingNumber string    `json:"tracking_number"`
	Reason         string    `json:"reason"`
	FailCount      int32     `json:"fail_count"`
	OccurredAt     time.Time `json:"occurred_at"`
}
