// Package fake is an in-process carrier for demos and tests: no network,
// deterministic output per tracking number.
package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/spediware/trackhub/internal/carriers"
)

const CarrierCode = "FAKE"

// Client derives a stable lifecycle position from the FNV hash of the
// tracking number, so repeated refreshes of the same shipment see the same
// progression: roughly a fifth of all numbers are delivered, the rest sit
// in transit or out for delivery.
type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Code() string { return CarrierCode }

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(CarrierCode, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(CarrierCode))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	now := time.Now().UTC()
	code, text := "TRANSIT", "In transit through the fake network"
	switch {
	case v%5 == 0:
		code, text = "DELIVERED", "Delivered by the fake courier"
	case v%5 == 1:
		code, text = "OUT_FOR_DELIVERY", "Out for delivery"
	}

	return carriers.RawTracking{
		CarrierCode:    CarrierCode,
		TrackingNumber: trackingNumber,
		StatusCode:     code,
		StatusText:     text,
		Events: []carriers.RawEvent{{
			Code:        code,
			Description: text,
			Location:    "FAKE HUB",
			Time:        now,
		}},
	}, nil
}
