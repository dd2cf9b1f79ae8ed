// Package spediamopro integrates the Spediamo Pro reseller platform: a JWT
// login (valid one hour), shipment lookup by code, and the "simulazione"
// quoting endpoint that returns tariffs for every carrier the reseller
// brokers (SDA, BRT, UPS, InPost).
package spediamopro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

// Tariff codes offered through the reseller, keyed by executing carrier.
var carrierTariffs = map[string]map[string]string{
	"SDA": {
		"SDAEXP": "SDA Express",
	},
	"BRT": {
		"BRTEXP":   "BRT Express",
		"BRTPUDO":  "BRT Fermopoint (Punto di ritiro)",
		"BRTDPD":   "DPD Standard (tramite BRT)",
		"BRTEUEXP": "EuroExpress Standard (tramite BRT)",
	},
	"UPS": {
		"UPSSTD":         "UPS Standard",
		"UPSEXPSAVER":    "UPS Express Saver",
		"UPSENVEXPSAVER": "UPS Envelope Express Saver",
	},
	"INPOST": {
		"INPOSTSTD": "InPost Point to Point Standard",
	},
}

type Config struct {
	BaseURL  string
	Username string
	Password string
	AuthCode string
	Timeout  time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client

	mu          sync.Mutex
	jwt         string
	tokenExpiry time.Time
}

func New(cfg Config) *Client {
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Code() string { return models.CarrierSpediamoPro }

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jwt != "" && time.Now().Before(c.tokenExpiry) {
		return c.jwt, nil
	}

	reqBody, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
		"authCode": c.cfg.AuthCode,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal login request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"auth/login", bytes.NewReader(reqBody))
	if err != nil {
		return "", errors.Wrap(err, "new login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", carriers.NewError(models.CarrierSpediamoPro, carriers.KindOf(err), "login call failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", carriers.NewError(models.CarrierSpediamoPro, carriers.KindAuth,
			fmt.Sprintf("login http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var tok struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", carriers.NewError(models.CarrierSpediamoPro, carriers.KindMalformed, "decode login response").WithCause(err)
	}
	if tok.Token == "" {
		return "", carriers.NewError(models.CarrierSpediamoPro, carriers.KindAuth, "login response has no token")
	}
	c.jwt = tok.Token
	// the JWT lives one hour; renew a minute early
	c.tokenExpiry = time.Now().Add(59 * time.Minute)
	return c.jwt, nil
}

type shipmentEvent struct {
	Data        string `json:"data"`
	Stato       int    `json:"stato"`
	Descrizione string `json:"descrizione"`
	Luogo       string `json:"luogo"`
}

type shipmentResponse struct {
	Spedizione *struct {
		Codice           string          `json:"codice"`
		Corriere         string          `json:"corriere"`
		Stato            int             `json:"stato"`
		StatoDescrizione string          `json:"statoDescrizione"`
		LetteraDiVettura string          `json:"letteraDiVettura"`
		Eventi           []shipmentEvent `json:"eventi"`
	} `json:"spedizione"`
	Errore string `json:"errore"`
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(models.CarrierSpediamoPro, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return carriers.RawTracking{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"spedizione/"+trackingNumber, nil)
	if err != nil {
		return carriers.RawTracking{}, errors.Wrap(err, "new shipment request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierSpediamoPro, carriers.KindOf(err), "shipment call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierSpediamoPro, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("shipment http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierSpediamoPro, carriers.KindUpstream, "read response").WithCause(err)
	}

	var sr shipmentResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierSpediamoPro, carriers.KindMalformed, "decode shipment response").WithCause(err)
	}
	if sr.Spedizione == nil {
		msg := sr.Errore
		if msg == "" {
			msg = "shipment not present in response"
		}
		return carriers.RawTracking{}, carriers.NewError(models.CarrierSpediamoPro, carriers.KindNotFound, msg)
	}

	sp := sr.Spedizione
	raw := carriers.RawTracking{
		CarrierCode:    models.CarrierSpediamoPro,
		TrackingNumber: trackingNumber,
		StatusCode:     strconv.Itoa(sp.Stato),
		StatusText:     sp.StatoDescrizione,
		Payload:        body,
	}
	for _, ev := range sp.Eventi {
		raw.Events = append(raw.Events, carriers.RawEvent{
			Code:        strconv.Itoa(ev.Stato),
			Description: ev.Descrizione,
			Location:    ev.Luogo,
			Time:        parseEventTime(ev.Data),
		})
	}
	sort.Slice(raw.Events, func(i, j int) bool { return raw.Events[i].Time.After(raw.Events[j].Time) })
	return raw, nil
}

func parseEventTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "02/01/2006 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

type simulationResponse struct {
	Simulazione struct {
		ID         int    `json:"id"`
		Codice     string `json:"codice"`
		Spedizioni []struct {
			ID          int     `json:"id"`
			Corriere    string  `json:"corriere"`
			TariffCode  string  `json:"tariffCode"`
			Tariffa     float64 `json:"tariffa"`
			OreConsegna string  `json:"oreConsegna"`
		} `json:"spedizioni"`
	} `json:"simulazione"`
}

// FetchQuote runs a simulazione and returns one quote per brokered tariff.
func (c *Client) FetchQuote(ctx context.Context, qr carriers.QuoteRequest) ([]carriers.Quote, error) {
	if err := carriers.ValidateQuoteRequest(models.CarrierSpediamoPro, qr); err != nil {
		return nil, err
	}
	// domestic-only reseller: both ends need a valid CAP
	if err := carriers.ValidateItalianPostal(models.CarrierSpediamoPro, qr.OriginPostal); err != nil {
		return nil, err
	}
	if err := carriers.ValidateItalianPostal(models.CarrierSpediamoPro, qr.DestinationPostal); err != nil {
		return nil, err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	type collo struct {
		Altezza    int     `json:"altezza"`
		Larghezza  int     `json:"larghezza"`
		Profondita int     `json:"profondita"`
		PesoReale  float64 `json:"pesoReale"`
	}
	colli := make([]collo, 0, len(qr.Packages))
	for _, p := range qr.Packages {
		colli = append(colli, collo{
			Altezza:    p.HeightCm,
			Larghezza:  p.WidthCm,
			Profondita: p.LengthCm,
			PesoReale:  p.WeightKg,
		})
	}
	reqBody, err := json.Marshal(map[string]any{
		"nazioneMittente":     qr.OriginCountry,
		"nazioneDestinatario": qr.DestinationCountry,
		"capMittente":         qr.OriginPostal,
		"capDestinatario":     qr.DestinationPostal,
		"cittaMittente":       qr.OriginCity,
		"cittaDestinatario":   qr.DestinationCity,
		"colli":               colli,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal simulation request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"simulazione", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "new simulation request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, carriers.NewError(models.CarrierSpediamoPro, carriers.KindOf(err), "simulation call failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, carriers.NewError(models.CarrierSpediamoPro, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("simulation http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var sim simulationResponse
	if err := json.NewDecoder(resp.Body).Decode(&sim); err != nil {
		return nil, carriers.NewError(models.CarrierSpediamoPro, carriers.KindMalformed, "decode simulation response").WithCause(err)
	}

	wanted := map[string]bool{}
	for _, sc := range qr.ServiceCodes {
		wanted[sc] = true
	}

	out := make([]carriers.Quote, 0, len(sim.Simulazione.Spedizioni))
	for _, sp := range sim.Simulazione.Spedizioni {
		if sp.Tariffa <= 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[sp.TariffCode] {
			continue
		}
		out = append(out, carriers.Quote{
			CarrierCode: models.CarrierSpediamoPro,
			ServiceCode: sp.TariffCode,
			ServiceName: serviceName(sp.Corriere, sp.TariffCode),
			TotalPrice:  sp.Tariffa,
			Currency:    "EUR",
			TransitDays: transitDays(sp.OreConsegna),
		})
	}
	return out, nil
}

func serviceName(carrier, tariffCode string) string {
	if names, ok := carrierTariffs[strings.ToUpper(carrier)]; ok {
		if name, ok := names[tariffCode]; ok {
			return name
		}
	}
	return tariffCode
}

func transitDays(oreConsegna string) int {
	hours, err := strconv.Atoi(oreConsegna)
	if err != nil || hours <= 0 {
		return 1
	}
	days := hours / 24
	if days < 1 {
		days = 1
	}
	return days
}
