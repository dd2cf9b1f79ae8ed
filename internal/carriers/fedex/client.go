// Package fedex wraps the FedEx Track API v1. An OAuth2 client-credentials
// token is fetched lazily and cached until shortly before expiry.
package fedex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

const defaultBaseURL = "https://apis.fedex.com/"

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Locale       string
	Timeout      time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en_US"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Code() string { return models.CarrierFedEx }

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"oauth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", carriers.NewError(models.CarrierFedEx, carriers.KindOf(err), "token call failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", carriers.NewError(models.CarrierFedEx, carriers.KindAuth,
			fmt.Sprintf("token http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", carriers.NewError(models.CarrierFedEx, carriers.KindMalformed, "decode token response").WithCause(err)
	}
	if tok.ExpiresIn <= 0 {
		tok.ExpiresIn = 3600
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - 5*time.Minute)
	return c.accessToken, nil
}

type scanEvent struct {
	Date             string `json:"date"`
	EventType        string `json:"eventType"`
	EventDescription string `json:"eventDescription"`
	DerivedStatus    string `json:"derivedStatus"`
	ScanLocation     struct {
		City                string `json:"city"`
		StateOrProvinceCode string `json:"stateOrProvinceCode"`
		CountryCode         string `json:"countryCode"`
	} `json:"scanLocation"`
}

type trackResponse struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackingNumber string `json:"trackingNumber"`
			TrackResults   []struct {
				Error *struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
				LatestStatusDetail struct {
					Code        string `json:"code"`
					Description string `json:"description"`
				} `json:"latestStatusDetail"`
				ScanEvents []scanEvent `json:"scanEvents"`
			} `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(models.CarrierFedEx, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return carriers.RawTracking{}, err
	}

	reqBody, err := json.Marshal(map[string]any{
		"includeDetailedScans": true,
		"trackingInfo": []map[string]any{
			{"trackingNumberInfo": map[string]string{"trackingNumber": trackingNumber}},
		},
	})
	if err != nil {
		return carriers.RawTracking{}, errors.Wrap(err, "marshal track request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"track/v1/trackingnumbers", bytes.NewReader(reqBody))
	if err != nil {
		return carriers.RawTracking{}, errors.Wrap(err, "new track request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-locale", c.cfg.Locale)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierFedEx, carriers.KindOf(err), "track call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierFedEx, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("track http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierFedEx, carriers.KindUpstream, "read response").WithCause(err)
	}

	var tr trackResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierFedEx, carriers.KindMalformed, "decode track response").WithCause(err)
	}
	if len(tr.Output.CompleteTrackResults) == 0 || len(tr.Output.CompleteTrackResults[0].TrackResults) == 0 {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierFedEx, carriers.KindMalformed, "response has no track results")
	}

	result := tr.Output.CompleteTrackResults[0].TrackResults[0]
	if result.Error != nil {
		kind := carriers.KindUpstream
		if strings.Contains(result.Error.Code, "NOTFOUND") || strings.Contains(strings.ToLower(result.Error.Message), "cannot find") {
			kind = carriers.KindNotFound
		}
		return carriers.RawTracking{}, carriers.NewError(models.CarrierFedEx, kind,
			fmt.Sprintf("track error %s: %s", result.Error.Code, result.Error.Message))
	}

	raw := carriers.RawTracking{
		CarrierCode:    models.CarrierFedEx,
		TrackingNumber: trackingNumber,
		StatusCode:     result.LatestStatusDetail.Code,
		StatusText:     result.LatestStatusDetail.Description,
		Payload:        body,
	}
	for _, ev := range result.ScanEvents {
		raw.Events = append(raw.Events, carriers.RawEvent{
			Code:        ev.EventType,
			Description: ev.EventDescription,
			Location:    eventLocation(ev),
			Time:        parseScanTime(ev.Date),
		})
	}
	if raw.StatusCode == "" && len(result.ScanEvents) > 0 {
		// scanEvents come newest-first
		raw.StatusCode = result.ScanEvents[0].EventType
		raw.StatusText = result.ScanEvents[0].EventDescription
	}
	return raw, nil
}

func eventLocation(ev scanEvent) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{ev.ScanLocation.City, ev.ScanLocation.StateOrProvinceCode, ev.ScanLocation.CountryCode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func parseScanTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	// "2026-02-10T14:22:00-05:00", occasionally without offset
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
