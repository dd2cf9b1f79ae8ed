// Package carriers defines the common contract every parcel carrier
// integration implements, plus the registry the scheduler resolves clients
// through. Authentication and wire formats stay inside each carrier package.
package carriers

import (
	"context"
	"encoding/json"
	"regexp"
	"time"
)

// RawEvent is a single carrier-native tracking event. Code and Description
// keep the carrier's own vocabulary; the normalizer owns the mapping to the
// canonical status enum.
type RawEvent struct {
	Code        string
	Description string
	Location    string
	Time        time.Time
}

// RawTracking is the unnormalized result of one tracking call.
// Events carry no ordering guarantee.
type RawTracking struct {
	CarrierCode    string
	TrackingNumber string

	// Latest carrier-native status, when the carrier reports one directly.
	StatusCode string
	StatusText string

	Events []RawEvent

	// Raw response body, kept opaque for audit/debugging.
	Payload json.RawMessage
}

// Client is the capability every carrier integration provides.
// Calls are single-attempt; retries and backoff live in the scheduler.
type Client interface {
	Code() string
	FetchTrackingStatus(ctx context.Context, trackingNumber string) (RawTracking, error)
}

// Package describes one parcel in a quote request, metric units.
type Package struct {
	WeightKg float64 `json:"weightKg"`
	LengthCm int     `json:"lengthCm"`
	WidthCm  int     `json:"widthCm"`
	HeightCm int     `json:"heightCm"`
}

type QuoteRequest struct {
	OriginCountry string `json:"originCountry"`
	OriginPostal  string `json:"originPostal"`
	OriginCity    string `json:"originCity"`

	DestinationCountry string `json:"destinationCountry"`
	DestinationPostal  string `json:"destinationPostal"`
	DestinationCity    string `json:"destinationCity"`

	Packages []Package `json:"packages"`

	DeclaredValueEUR float64 `json:"declaredValueEur,omitempty"`
	Documents        bool    `json:"documents,omitempty"`

	// Restrict to specific carrier service codes; empty means all offered.
	ServiceCodes []string `json:"serviceCodes,omitempty"`
}

// Quote is one priced service option from a carrier.
type Quote struct {
	CarrierCode string  `json:"carrierCode"`
	ServiceCode string  `json:"serviceCode"`
	ServiceName string  `json:"serviceName"`
	TotalPrice  float64 `json:"totalPrice"`
	Currency    string  `json:"currency"`
	TransitDays int     `json:"transitDays,omitempty"`
}

// Quoter is implemented by carriers that offer quoting.
type Quoter interface {
	FetchQuote(ctx context.Context, req QuoteRequest) ([]Quote, error)
}

var postalDigits = regexp.MustCompile(`^[0-9]{4,10}$`)

// ValidateQuoteRequest checks the carrier-independent required fields.
// Carrier packages add their own checks (postal formats, service codes)
// before any network call is made.
func ValidateQuoteRequest(carrier string, req QuoteRequest) error {
	if req.OriginCountry == "" || req.DestinationCountry == "" {
		return NewError(carrier, KindInvalidRequest, "origin and destination country are required")
	}
	if req.OriginPostal == "" || req.DestinationPostal == "" {
		return NewError(carrier, KindInvalidRequest, "origin and destination postal code are required")
	}
	if len(req.Packages) == 0 {
		return NewError(carrier, KindInvalidRequest, "at least one package is required")
	}
	for _, p := range req.Packages {
		if p.WeightKg <= 0 {
			return NewError(carrier, KindInvalidRequest, "package weight must be positive")
		}
	}
	return nil
}

// ValidateItalianPostal enforces the 5-digit CAP format used by the domestic
// carriers (BRT, SDA, SpediamoPro).
func ValidateItalianPostal(carrier, postal string) error {
	if len(postal) != 5 || !postalDigits.MatchString(postal) {
		return NewError(carrier, KindInvalidRequest, "postal code must be a 5-digit CAP: "+postal)
	}
	return nil
}

// ValidateTrackingNumber rejects inputs no carrier would accept, without a
// network call.
func ValidateTrackingNumber(carrier, trackingNumber string) error {
	if trackingNumber == "" {
		return NewError(carrier, KindInvalidRequest, "tracking number is required")
	}
	if len(trackingNumber) > 64 {
		return NewError(carrier, KindInvalidRequest, "tracking number too long")
	}
	return nil
}
