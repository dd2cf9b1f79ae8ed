// Package dhl integrates the DHL XMLPI servlet: KnownTrackingRequest for
// tracking and DCTRequest/GetQuote for quoting. Credentials travel inside
// the XML body (ServiceHeader), never outside this package.
package dhl

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

const defaultBaseURL = "https://xmlpi-ea.dhl.com/XMLShippingServlet"

type Config struct {
	SiteID       string
	Password     string
	CustomerCode string
	BaseURL      string
	Timeout      time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Code() string { return models.CarrierDHL }

// messageReference must be 28..32 chars per the XMLPI schema; a dashless
// UUID is exactly 32.
func messageReference() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Client) serviceHeader() string {
	return fmt.Sprintf(`<Request><ServiceHeader><MessageTime>%s</MessageTime><MessageReference>%s</MessageReference><SiteID>%s</SiteID><Password>%s</Password></ServiceHeader></Request>`,
		time.Now().UTC().Format("2006-01-02T15:04:05"), messageReference(), c.cfg.SiteID, c.cfg.Password)
}

type trackCondition struct {
	ConditionCode string `xml:"ConditionCode"`
	ConditionData string `xml:"ConditionData"`
}

type trackShipmentEvent struct {
	Date         string `xml:"Date"`
	Time         string `xml:"Time"`
	ServiceEvent struct {
		EventCode   string `xml:"EventCode"`
		Description string `xml:"Description"`
	} `xml:"ServiceEvent"`
	ServiceArea struct {
		Description string `xml:"Description"`
	} `xml:"ServiceArea"`
}

type trackResponse struct {
	AWBInfo []struct {
		AWBNumber string `xml:"AWBNumber"`
		Status    struct {
			ActionStatus string           `xml:"ActionStatus"`
			Condition    []trackCondition `xml:"Condition"`
		} `xml:"Status"`
		ShipmentInfo struct {
			ShipmentEvent []trackShipmentEvent `xml:"ShipmentEvent"`
		} `xml:"ShipmentInfo"`
	} `xml:"AWBInfo"`
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(models.CarrierDHL, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}

	reqXML := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<req:KnownTrackingRequest xmlns:req="http://www.dhl.com">%s<LanguageCode>en</LanguageCode><AWBNumber>%s</AWBNumber><LevelOfDetails>ALL_CHECK_POINTS</LevelOfDetails></req:KnownTrackingRequest>`,
		c.serviceHeader(), xmlEscape(trackingNumber))

	body, err := c.post(ctx, reqXML)
	if err != nil {
		return carriers.RawTracking{}, err
	}

	var resp trackResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierDHL, carriers.KindMalformed, "decode tracking response").WithCause(err)
	}
	if len(resp.AWBInfo) == 0 {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierDHL, carriers.KindMalformed, "response has no AWBInfo")
	}

	info := resp.AWBInfo[0]
	for _, cond := range info.Status.Condition {
		return carriers.RawTracking{}, classifyCondition(cond)
	}

	raw := carriers.RawTracking{
		CarrierCode:    models.CarrierDHL,
		TrackingNumber: trackingNumber,
		Payload:        body,
	}
	for _, ev := range info.ShipmentInfo.ShipmentEvent {
		raw.Events = append(raw.Events, carriers.RawEvent{
			Code:        ev.ServiceEvent.EventCode,
			Description: ev.ServiceEvent.Description,
			Location:    ev.ServiceArea.Description,
			Time:        parseEventTime(ev.Date, ev.Time),
		})
	}
	if n := len(info.ShipmentInfo.ShipmentEvent); n > 0 {
		// XMLPI returns checkpoints oldest-first; the last one is current.
		last := info.ShipmentInfo.ShipmentEvent[n-1]
		raw.StatusCode = last.ServiceEvent.EventCode
		raw.StatusText = last.ServiceEvent.Description
	}
	return raw, nil
}

// classifyCondition maps the XMLPI error conditions onto failure kinds.
// 100/101 come back for shipment-not-found, 110xx for credential problems.
func classifyCondition(cond trackCondition) error {
	data := strings.ToLower(cond.ConditionData)
	kind := carriers.KindUpstream
	switch {
	case strings.Contains(data, "no shipments found") || cond.ConditionCode == "100" || cond.ConditionCode == "101":
		kind = carriers.KindNotFound
	case strings.Contains(data, "siteid") || strings.Contains(data, "password") || strings.Contains(data, "not authorized"):
		kind = carriers.KindAuth
	}
	return carriers.NewError(models.CarrierDHL, kind,
		fmt.Sprintf("condition %s: %s", cond.ConditionCode, cond.ConditionData))
}

func parseEventTime(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	if clock == "" {
		clock = "00:00:00"
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

type dctQuote struct {
	QtdShp []struct {
		GlobalProductCode string  `xml:"GlobalProductCode"`
		ProductShortName  string  `xml:"ProductShortName"`
		ShippingCharge    float64 `xml:"ShippingCharge"`
		CurrencyCode      string  `xml:"CurrencyCode"`
		TotalTransitDays  int     `xml:"TotalTransitDays"`
	} `xml:"GetQuoteResponse>BkgDetails>QtdShp"`
	Condition []trackCondition `xml:"GetQuoteResponse>Note>Condition"`
}

// FetchQuote asks the DCT GetQuote service for priced products.
func (c *Client) FetchQuote(ctx context.Context, req carriers.QuoteRequest) ([]carriers.Quote, error) {
	if err := carriers.ValidateQuoteRequest(models.CarrierDHL, req); err != nil {
		return nil, err
	}

	var pieces strings.Builder
	for i, p := range req.Packages {
		fmt.Fprintf(&pieces, `<Piece><PieceID>%d</PieceID><Height>%d</Height><Depth>%d</Depth><Width>%d</Width><Weight>%.2f</Weight></Piece>`,
			i+1, p.HeightCm, p.LengthCm, p.WidthCm, p.WeightKg)
	}
	reqXML := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<p:DCTRequest xmlns:p="http://www.dhl.com">
<GetQuote>%s<From><CountryCode>%s</CountryCode><Postalcode>%s</Postalcode><City>%s</City></From>
<BkgDetails><PaymentCountryCode>%s</PaymentCountryCode><Date>%s</Date><ReadyTime>PT10H</ReadyTime><DimensionUnit>CM</DimensionUnit><WeightUnit>KG</WeightUnit><Pieces>%s</Pieces><PaymentAccountNumber>%s</PaymentAccountNumber></BkgDetails>
<To><CountryCode>%s</CountryCode><Postalcode>%s</Postalcode><City>%s</City></To></GetQuote></p:DCTRequest>`,
		c.serviceHeader(),
		xmlEscape(req.OriginCountry), xmlEscape(req.OriginPostal), xmlEscape(req.OriginCity),
		xmlEscape(req.OriginCountry), time.Now().UTC().Format("2006-01-02"), pieces.String(), xmlEscape(c.cfg.CustomerCode),
		xmlEscape(req.DestinationCountry), xmlEscape(req.DestinationPostal), xmlEscape(req.DestinationCity))

	body, err := c.post(ctx, reqXML)
	if err != nil {
		return nil, err
	}

	var resp dctQuote
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, carriers.NewError(models.CarrierDHL, carriers.KindMalformed, "decode quote response").WithCause(err)
	}
	for _, cond := range resp.Condition {
		return nil, classifyCondition(cond)
	}

	out := make([]carriers.Quote, 0, len(resp.QtdShp))
	for _, q := range resp.QtdShp {
		if q.ShippingCharge <= 0 {
			continue
		}
		out = append(out, carriers.Quote{
			CarrierCode: models.CarrierDHL,
			ServiceCode: q.GlobalProductCode,
			ServiceName: q.ProductShortName,
			TotalPrice:  q.ShippingCharge,
			Currency:    q.CurrencyCode,
			TransitDays: q.TotalTransitDays,
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, reqXML string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewBufferString(reqXML))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, carriers.NewError(models.CarrierDHL, carriers.KindOf(err), "xmlpi call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, carriers.NewError(models.CarrierDHL, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("xmlpi http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, carriers.NewError(models.CarrierDHL, carriers.KindUpstream, "read response").WithCause(err)
	}
	return body, nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
