package dhl

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spediware/trackhub/internal/carriers"
)

const trackOKBody = `<?xml version="1.0" encoding="UTF-8"?>
<req:TrackingResponse xmlns:req="http://www.dhl.com">
  <AWBInfo>
    <AWBNumber>1234567890</AWBNumber>
    <Status><ActionStatus>success</ActionStatus></Status>
    <ShipmentInfo>
      <ShipmentEvent>
        <Date>2026-02-10</Date><Time>09:15:00</Time>
        <ServiceEvent><EventCode>PU</EventCode><Description>Shipment picked up</Description></ServiceEvent>
        <ServiceArea><Description>MILAN - ITALY</Description></ServiceArea>
      </ShipmentEvent>
      <ShipmentEvent>
        <Date>2026-02-12</Date><Time>14:02:00</Time>
        <ServiceEvent><EventCode>OK</EventCode><Description>Delivered</Description></ServiceEvent>
        <ServiceArea><Description>ROME - ITALY</Description></ServiceArea>
      </ShipmentEvent>
    </ShipmentInfo>
  </AWBInfo>
</req:TrackingResponse>`

const trackNotFoundBody = `<?xml version="1.0" encoding="UTF-8"?>
<req:TrackingResponse xmlns:req="http://www.dhl.com">
  <AWBInfo>
    <AWBNumber>0000000000</AWBNumber>
    <Status>
      <ActionStatus>No Shipments Found</ActionStatus>
      <Condition><ConditionCode>101</ConditionCode><ConditionData>No Shipments Found for AWBNumber</ConditionData></Condition>
    </Status>
  </AWBInfo>
</req:TrackingResponse>`

func TestFetchTrackingStatus(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(trackOKBody))
	}))
	defer srv.Close()

	c := New(Config{SiteID: "site", Password: "pass", BaseURL: srv.URL})
	raw, err := c.FetchTrackingStatus(context.Background(), "1234567890")
	require.NoError(t, err)

	require.Contains(t, gotBody, "<SiteID>site</SiteID>")
	require.Contains(t, gotBody, "<AWBNumber>1234567890</AWBNumber>")
	require.Contains(t, gotBody, "ALL_CHECK_POINTS")

	require.Equal(t, "OK", raw.StatusCode)
	require.Equal(t, "Delivered", raw.StatusText)
	require.Len(t, raw.Events, 2)
	require.Equal(t, "PU", raw.Events[0].Code)
	require.Equal(t, "MILAN - ITALY", raw.Events[0].Location)
	require.Equal(t, time.Date(2026, 2, 12, 14, 2, 0, 0, time.UTC), raw.Events[1].Time)
	require.NotEmpty(t, raw.Payload)
}

func TestFetchTrackingStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(trackNotFoundBody))
	}))
	defer srv.Close()

	c := New(Config{SiteID: "site", Password: "pass", BaseURL: srv.URL})
	_, err := c.FetchTrackingStatus(context.Background(), "0000000000")
	require.Equal(t, carriers.KindNotFound, carriers.KindOf(err))
}

func TestFetchTrackingStatusHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{SiteID: "site", Password: "pass", BaseURL: srv.URL})
	_, err := c.FetchTrackingStatus(context.Background(), "1234567890")
	require.Equal(t, carriers.KindUpstream, carriers.KindOf(err))
}

func TestFetchTrackingStatusEmptyNumber(t *testing.T) {
	c := New(Config{SiteID: "site", Password: "pass"})
	_, err := c.FetchTrackingStatus(context.Background(), "")
	require.Equal(t, carriers.KindInvalidRequest, carriers.KindOf(err))
}

const quoteBody = `<?xml version="1.0" encoding="UTF-8"?>
<res:DCTResponse xmlns:res="http://www.dhl.com">
  <GetQuoteResponse>
    <BkgDetails>
      <QtdShp>
        <GlobalProductCode>P</GlobalProductCode>
        <ProductShortName>EXPRESS WORLDWIDE</ProductShortName>
        <ShippingCharge>42.50</ShippingCharge>
        <CurrencyCode>EUR</CurrencyCode>
        <TotalTransitDays>2</TotalTransitDays>
      </QtdShp>
      <QtdShp>
        <GlobalProductCode>K</GlobalProductCode>
        <ProductShortName>EXPRESS 9:00</ProductShortName>
        <ShippingCharge>0</ShippingCharge>
        <CurrencyCode>EUR</CurrencyCode>
      </QtdShp>
    </BkgDetails>
  </GetQuoteResponse>
</res:DCTResponse>`

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		require.True(t, strings.Contains(string(b), "<Weight>2.50</Weight>"))
		w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	c := New(Config{SiteID: "site", Password: "pass", BaseURL: srv.URL})
	quotes, err := c.FetchQuote(context.Background(), carriers.QuoteRequest{
		OriginCountry: "IT", OriginPostal: "20100", OriginCity: "Milano",
		DestinationCountry: "DE", DestinationPostal: "10115", DestinationCity: "Berlin",
		Packages: []carriers.Package{{WeightKg: 2.5, LengthCm: 30, WidthCm: 20, HeightCm: 10}},
	})
	require.NoError(t, err)
	// zero-priced products are dropped
	require.Len(t, quotes, 1)
	require.Equal(t, "P", quotes[0].ServiceCode)
	require.Equal(t, 42.50, quotes[0].TotalPrice)
	require.Equal(t, 2, quotes[0].TransitDays)
}
