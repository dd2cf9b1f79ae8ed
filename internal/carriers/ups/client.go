// Package ups talks to two UPS surfaces: the legacy XML Track API (an
// AccessRequest document prepended to the TrackRequest) and the OAuth2
// REST Rating API for quotes.
package ups

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

const (
	defaultTrackURL = "https://onlinetools.ups.com/ups.app/xml/Track"
	defaultRateURL  = "https://onlinetools.ups.com"
)

type Config struct {
	// XML Track API access key credentials.
	LicenseNumber string
	Username      string
	Password      string

	// OAuth2 credentials for the Rating API.
	ClientID      string
	ClientSecret  string
	AccountNumber string

	TrackURL string
	RateURL  string
	Timeout  time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(cfg Config) *Client {
	if cfg.TrackURL == "" {
		cfg.TrackURL = defaultTrackURL
	}
	if cfg.RateURL == "" {
		cfg.RateURL = defaultRateURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Code() string { return models.CarrierUPS }

type trackActivity struct {
	ActivityLocation struct {
		Address struct {
			City        string `xml:"City"`
			CountryCode string `xml:"CountryCode"`
		} `xml:"Address"`
	} `xml:"ActivityLocation"`
	Status struct {
		StatusType struct {
			Code        string `xml:"Code"`
			Description string `xml:"Description"`
		} `xml:"StatusType"`
	} `xml:"Status"`
	Date string `xml:"Date"`
	Time string `xml:"Time"`
}

type trackResponse struct {
	Response struct {
		ResponseStatusCode string `xml:"ResponseStatusCode"`
		Error              struct {
			ErrorCode        string `xml:"ErrorCode"`
			ErrorDescription string `xml:"ErrorDescription"`
		} `xml:"Error"`
	} `xml:"Response"`
	Shipment struct {
		Package struct {
			Activity []trackActivity `xml:"Activity"`
		} `xml:"Package"`
	} `xml:"Shipment"`
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(models.CarrierUPS, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}

	// Two XML documents back to back, as the legacy API requires.
	reqXML := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<AccessRequest><AccessLicenseNumber>%s</AccessLicenseNumber><UserId>%s</UserId><Password>%s</Password></AccessRequest>
<?xml version="1.0" encoding="UTF-8"?>
<TrackRequest><Request><RequestAction>Track</RequestAction><RequestOption>activity</RequestOption></Request><TrackingNumber>%s</TrackingNumber></TrackRequest>`,
		xmlEscape(c.cfg.LicenseNumber), xmlEscape(c.cfg.Username), xmlEscape(c.cfg.Password), xmlEscape(trackingNumber))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TrackURL, bytes.NewBufferString(reqXML))
	if err != nil {
		return carriers.RawTracking{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierUPS, carriers.KindOf(err), "track call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierUPS, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("track http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierUPS, carriers.KindUpstream, "read response").WithCause(err)
	}

	var tr trackResponse
	if err := xml.Unmarshal(body, &tr); err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierUPS, carriers.KindMalformed, "decode track response").WithCause(err)
	}
	if tr.Response.ResponseStatusCode != "1" {
		return carriers.RawTracking{}, classifyTrackError(tr.Response.Error.ErrorCode, tr.Response.Error.ErrorDescription)
	}

	raw := carriers.RawTracking{
		CarrierCode:    models.CarrierUPS,
		TrackingNumber: trackingNumber,
		Payload:        body,
	}
	for _, act := range tr.Shipment.Package.Activity {
		loc := act.ActivityLocation.Address.City
		if cc := act.ActivityLocation.Address.CountryCode; cc != "" {
			loc = strings.TrimPrefix(loc+" "+cc, " ")
		}
		raw.Events = append(raw.Events, carriers.RawEvent{
			Code:        act.Status.StatusType.Code,
			Description: act.Status.StatusType.Description,
			Location:    loc,
			Time:        parseActivityTime(act.Date, act.Time),
		})
	}
	// Activities come newest-first.
	if len(tr.Shipment.Package.Activity) > 0 {
		first := tr.Shipment.Package.Activity[0]
		raw.StatusCode = first.Status.StatusType.Code
		raw.StatusText = first.Status.StatusType.Description
	}
	return raw, nil
}

// 151018/151044/151045 are the tracking-number-unknown family, 250xxx are
// credential errors.
func classifyTrackError(code, desc string) error {
	kind := carriers.KindUpstream
	switch {
	case strings.HasPrefix(code, "15104") || code == "151018":
		kind = carriers.KindNotFound
	case strings.HasPrefix(code, "250"):
		kind = carriers.KindAuth
	}
	return carriers.NewError(models.CarrierUPS, kind, fmt.Sprintf("track error %s: %s", code, desc))
}

func parseActivityTime(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	if clock == "" {
		clock = "000000"
	}
	t, err := time.ParseInLocation("20060102 150405", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RateURL+"/security/v1/oauth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", carriers.NewError(models.CarrierUPS, carriers.KindOf(err), "token call failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", carriers.NewError(models.CarrierUPS, carriers.KindAuth,
			fmt.Sprintf("token http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", carriers.NewError(models.CarrierUPS, carriers.KindMalformed, "decode token response").WithCause(err)
	}
	ttl, _ := strconv.Atoi(tok.ExpiresIn)
	if ttl <= 0 {
		ttl = 3600
	}
	c.accessToken = tok.AccessToken
	// renew five minutes early
	c.tokenExpiry = time.Now().Add(time.Duration(ttl)*time.Second - 5*time.Minute)
	return c.accessToken, nil
}

type rateResponse struct {
	RateResponse struct {
		RatedShipment []struct {
			Service struct {
				Code        string `json:"Code"`
				Description string `json:"Description"`
			} `json:"Service"`
			TotalCharges struct {
				CurrencyCode  string `json:"CurrencyCode"`
				MonetaryValue string `json:"MonetaryValue"`
			} `json:"TotalCharges"`
		} `json:"RatedShipment"`
	} `json:"RateResponse"`
}

var serviceNames = map[string]string{
	"11": "UPS Standard",
	"65": "UPS Express Saver",
	"07": "UPS Express",
}

// FetchQuote shops all services through the Rating API.
func (c *Client) FetchQuote(ctx context.Context, qr carriers.QuoteRequest) ([]carriers.Quote, error) {
	if err := carriers.ValidateQuoteRequest(models.CarrierUPS, qr); err != nil {
		return nil, err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	type dims struct {
		UnitOfMeasurement struct {
			Code string `json:"Code"`
		} `json:"UnitOfMeasurement"`
		Length string `json:"Length"`
		Width  string `json:"Width"`
		Height string `json:"Height"`
	}
	type pkg struct {
		PackagingType struct {
			Code string `json:"Code"`
		} `json:"PackagingType"`
		Dimensions    dims `json:"Dimensions"`
		PackageWeight struct {
			UnitOfMeasurement struct {
				Code string `json:"Code"`
			} `json:"UnitOfMeasurement"`
			Weight string `json:"Weight"`
		} `json:"PackageWeight"`
	}

	packages := make([]pkg, 0, len(qr.Packages))
	for _, p := range qr.Packages {
		var pk pkg
		pk.PackagingType.Code = "02"
		pk.Dimensions.UnitOfMeasurement.Code = "CM"
		pk.Dimensions.Length = strconv.Itoa(p.LengthCm)
		pk.Dimensions.Width = strconv.Itoa(p.WidthCm)
		pk.Dimensions.Height = strconv.Itoa(p.HeightCm)
		pk.PackageWeight.UnitOfMeasurement.Code = "KGS"
		pk.PackageWeight.Weight = strconv.FormatFloat(p.WeightKg, 'f', 2, 64)
		packages = append(packages, pk)
	}

	payload := map[string]any{
		"RateRequest": map[string]any{
			"Request": map[string]any{"RequestOption": "Shop"},
			"Shipment": map[string]any{
				"Shipper": map[string]any{
					"ShipperNumber": c.cfg.AccountNumber,
					"Address": map[string]any{
						"City": qr.OriginCity, "PostalCode": qr.OriginPostal, "CountryCode": qr.OriginCountry,
					},
				},
				"ShipTo": map[string]any{
					"Address": map[string]any{
						"City": qr.DestinationCity, "PostalCode": qr.DestinationPostal, "CountryCode": qr.DestinationCountry,
					},
				},
				"ShipFrom": map[string]any{
					"Address": map[string]any{
						"City": qr.OriginCity, "PostalCode": qr.OriginPostal, "CountryCode": qr.OriginCountry,
					},
				},
				"Package": packages,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal rate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.RateURL+"/api/rating/v1/Shop", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new rate request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, carriers.NewError(models.CarrierUPS, carriers.KindOf(err), "rate call failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, carriers.NewError(models.CarrierUPS, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("rate http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var rr rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, carriers.NewError(models.CarrierUPS, carriers.KindMalformed, "decode rate response").WithCause(err)
	}

	out := make([]carriers.Quote, 0, len(rr.RateResponse.RatedShipment))
	for _, rs := range rr.RateResponse.RatedShipment {
		price, err := strconv.ParseFloat(rs.TotalCharges.MonetaryValue, 64)
		if err != nil || price <= 0 {
			continue
		}
		name := rs.Service.Description
		if name == "" {
			name = serviceNames[rs.Service.Code]
		}
		out = append(out, carriers.Quote{
			CarrierCode: models.CarrierUPS,
			ServiceCode: rs.Service.Code,
			ServiceName: name,
			TotalPrice:  price,
			Currency:    rs.TotalCharges.CurrencyCode,
		})
	}
	return out, nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
