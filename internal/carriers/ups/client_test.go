package ups

import (
	"context"
	"encoding/json"
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
<TrackResponse>
  <Response><ResponseStatusCode>1</ResponseStatusCode></Response>
  <Shipment>
    <Package>
      <Activity>
        <ActivityLocation><Address><City>ROMA</City><CountryCode>IT</CountryCode></Address></ActivityLocation>
        <Status><StatusType><Code>D</Code><Description>DELIVERED</Description></StatusType></Status>
        <Date>20260215</Date><Time>113000</Time>
      </Activity>
      <Activity>
        <ActivityLocation><Address><City>MILANO</City><CountryCode>IT</CountryCode></Address></ActivityLocation>
        <Status><StatusType><Code>I</Code><Description>ARRIVAL SCAN</Description></StatusType></Status>
        <Date>20260214</Date><Time>081500</Time>
      </Activity>
    </Package>
  </Shipment>
</TrackResponse>`

const trackErrBody = `<?xml version="1.0" encoding="UTF-8"?>
<TrackResponse>
  <Response>
    <ResponseStatusCode>0</ResponseStatusCode>
    <Error><ErrorCode>151044</ErrorCode><ErrorDescription>No tracking information available</ErrorDescription></Error>
  </Response>
</TrackResponse>`

func TestFetchTrackingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		require.Contains(t, string(b), "<AccessLicenseNumber>lic</AccessLicenseNumber>")
		require.Contains(t, string(b), "<TrackingNumber>1Z999AA10123456784</TrackingNumber>")
		w.Write([]byte(trackOKBody))
	}))
	defer srv.Close()

	c := New(Config{LicenseNumber: "lic", Username: "u", Password: "p", TrackURL: srv.URL})
	raw, err := c.FetchTrackingStatus(context.Background(), "1Z999AA10123456784")
	require.NoError(t, err)

	// newest activity wins
	require.Equal(t, "D", raw.StatusCode)
	require.Equal(t, "DELIVERED", raw.StatusText)
	require.Len(t, raw.Events, 2)
	require.Equal(t, "ROMA IT", raw.Events[0].Location)
	require.Equal(t, time.Date(2026, 2, 15, 11, 30, 0, 0, time.UTC), raw.Events[0].Time)
}

func TestFetchTrackingStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(trackErrBody))
	}))
	defer srv.Close()

	c := New(Config{LicenseNumber: "lic", Username: "u", Password: "p", TrackURL: srv.URL})
	_, err := c.FetchTrackingStatus(context.Background(), "1Z000000000000000")
	require.Equal(t, carriers.KindNotFound, carriers.KindOf(err))
}

func TestFetchQuote(t *testing.T) {
	var tokenCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/security/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		u, p, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "cid", u)
		require.Equal(t, "secret", p)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3600"})
	})
	mux.HandleFunc("/api/rating/v1/Shop", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		require.True(t, strings.Contains(string(b), `"RequestOption":"Shop"`))
		w.Write([]byte(`{"RateResponse":{"RatedShipment":[
			{"Service":{"Code":"11","Description":""},"TotalCharges":{"CurrencyCode":"EUR","MonetaryValue":"18.90"}},
			{"Service":{"Code":"65","Description":"Express Saver"},"TotalCharges":{"CurrencyCode":"EUR","MonetaryValue":"31.20"}}
		]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "secret", AccountNumber: "A1", RateURL: srv.URL})
	req := carriers.QuoteRequest{
		OriginCountry: "IT", OriginPostal: "20100", OriginCity: "Milano",
		DestinationCountry: "IT", DestinationPostal: "00100", DestinationCity: "Roma",
		Packages: []carriers.Package{{WeightKg: 1, LengthCm: 20, WidthCm: 20, HeightCm: 10}},
	}
	quotes, err := c.FetchQuote(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, "UPS Standard", quotes[0].ServiceName)
	require.Equal(t, 18.90, quotes[0].TotalPrice)

	// token is cached across calls
	_, err = c.FetchQuote(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, tokenCalls)
}

func TestFetchQuoteBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "wrong", RateURL: srv.URL})
	_, err := c.FetchQuote(context.Background(), carriers.QuoteRequest{
		OriginCountry: "IT", OriginPostal: "20100",
		DestinationCountry: "IT", DestinationPostal: "00100",
		Packages: []carriers.Package{{WeightKg: 1}},
	})
	require.Equal(t, carriers.KindAuth, carriers.KindOf(err))
}
