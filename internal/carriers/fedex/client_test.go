package fedex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spediware/trackhub/internal/carriers"
)

func newTestServer(t *testing.T, trackBody string) (*httptest.Server, *int) {
	t.Helper()
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		require.Equal(t, "cid", r.FormValue("client_id"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fdx-tok", "expires_in": 3600})
	})
	mux.HandleFunc("/track/v1/trackingnumbers", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer fdx-tok", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		require.Contains(t, string(b), `"includeDetailedScans":true`)
		w.Write([]byte(trackBody))
	})
	return httptest.NewServer(mux), &tokenCalls
}

const trackOKBody = `{"output":{"completeTrackResults":[{"trackingNumber":"794616896300","trackResults":[{
  "latestStatusDetail":{"code":"DL","description":"Delivered"},
  "scanEvents":[
    {"date":"2026-03-02T10:05:00+01:00","eventType":"DL","eventDescription":"Delivered","derivedStatus":"Delivered","scanLocation":{"city":"TORINO","countryCode":"IT"}},
    {"date":"2026-03-01T18:40:00+01:00","eventType":"AR","eventDescription":"At local FedEx facility","scanLocation":{"city":"TORINO","stateOrProvinceCode":"TO","countryCode":"IT"}}
  ]}]}]}}`

func TestFetchTrackingStatus(t *testing.T) {
	srv, tokenCalls := newTestServer(t, trackOKBody)
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "secret", BaseURL: srv.URL})
	raw, err := c.FetchTrackingStatus(context.Background(), "794616896300")
	require.NoError(t, err)

	require.Equal(t, "DL", raw.StatusCode)
	require.Equal(t, "Delivered", raw.StatusText)
	require.Len(t, raw.Events, 2)
	require.Equal(t, "TORINO IT", raw.Events[0].Location)
	require.Equal(t, "TORINO TO IT", raw.Events[1].Location)
	wantTime := time.Date(2026, 3, 2, 10, 5, 0, 0, time.FixedZone("", 3600))
	require.True(t, raw.Events[0].Time.Equal(wantTime))

	// second fetch reuses the cached token
	_, err = c.FetchTrackingStatus(context.Background(), "794616896300")
	require.NoError(t, err)
	require.Equal(t, 1, *tokenCalls)
}

func TestFetchTrackingStatusNotFound(t *testing.T) {
	body := `{"output":{"completeTrackResults":[{"trackResults":[{"error":{"code":"TRACKING.TRACKINGNUMBER.NOTFOUND","message":"Tracking number cannot be found"}}]}]}}`
	srv, _ := newTestServer(t, body)
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "secret", BaseURL: srv.URL})
	_, err := c.FetchTrackingStatus(context.Background(), "000000000000")
	require.Equal(t, carriers.KindNotFound, carriers.KindOf(err))
}

func TestFetchTrackingStatusTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "bad", BaseURL: srv.URL})
	_, err := c.FetchTrackingStatus(context.Background(), "794616896300")
	require.Equal(t, carriers.KindAuth, carriers.KindOf(err))
}

func TestFetchTrackingStatusRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fdx-tok", "expires_in": 3600})
	})
	mux.HandleFunc("/track/v1/trackingnumbers", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "secret", BaseURL: srv.URL})
	_, err := c.FetchTrackingStatus(context.Background(), "794616896300")
	require.Equal(t, carriers.KindRateLimited, carriers.KindOf(err))
}
