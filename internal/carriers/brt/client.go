// Package brt wraps the BRT (Bartolini) REST tracking API. Credentials go
// in userID/password headers on a plain GET; the response nests everything
// under ttParcelIdResponse with Italian field names.
package brt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

const defaultBaseURL = "https://api.brt.it/rest/v1/tracking"

type Config struct {
	Username string
	Password string
	BaseURL  string
	Timeout  time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Code() string { return models.CarrierBRT }

type parcelEvent struct {
	ID          string `json:"id"`
	Descrizione string `json:"descrizione"`
	Filiale     string `json:"filiale"`
	Data        string `json:"data"`
	Ora         string `json:"ora"`
}

type parcelResponse struct {
	TTParcelIDResponse struct {
		Esito            int `json:"esito"`
		ExecutionMessage struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"executionMessage"`
		Bolla struct {
			DatiSpedizione struct {
				SpedizioneID     string `json:"spedizione_id"`
				StatoParte1      string `json:"stato_sped_parte1"`
				DescrizioneStato string `json:"descrizione_stato_sped_parte1"`
			} `json:"dati_spedizione"`
			DatiConsegna struct {
				DataConsegna string `json:"data_consegna_merce"`
				OraConsegna  string `json:"ora_consegna_merce"`
				Firmatario   string `json:"firmatario_consegna"`
			} `json:"dati_consegna"`
		} `json:"bolla"`
		ListaEventi []struct {
			Evento parcelEvent `json:"evento"`
		} `json:"lista_eventi"`
	} `json:"ttParcelIdResponse"`
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(models.CarrierBRT, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/parcelID/"+trackingNumber, nil)
	if err != nil {
		return carriers.RawTracking{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("userID", c.cfg.Username)
	req.Header.Set("password", c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierBRT, carriers.KindOf(err), "track call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierBRT, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("track http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierBRT, carriers.KindUpstream, "read response").WithCause(err)
	}

	var pr parcelResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierBRT, carriers.KindMalformed, "decode track response").WithCause(err)
	}

	rd := pr.TTParcelIDResponse
	if rd.Esito != 0 {
		kind := carriers.KindUpstream
		if strings.Contains(strings.ToLower(rd.ExecutionMessage.Message), "not found") ||
			strings.Contains(strings.ToLower(rd.ExecutionMessage.Message), "non trovat") {
			kind = carriers.KindNotFound
		}
		return carriers.RawTracking{}, carriers.NewError(models.CarrierBRT, kind,
			fmt.Sprintf("esito %d code %d: %s", rd.Esito, rd.ExecutionMessage.Code, rd.ExecutionMessage.Message))
	}

	raw := carriers.RawTracking{
		CarrierCode:    models.CarrierBRT,
		TrackingNumber: trackingNumber,
		StatusCode:     rd.Bolla.DatiSpedizione.StatoParte1,
		StatusText:     rd.Bolla.DatiSpedizione.DescrizioneStato,
		Payload:        body,
	}
	for _, item := range rd.ListaEventi {
		ev := item.Evento
		raw.Events = append(raw.Events, carriers.RawEvent{
			Code:        ev.ID,
			Description: ev.Descrizione,
			Location:    ev.Filiale,
			Time:        parseEventTime(ev.Data, ev.Ora),
		})
	}
	sort.Slice(raw.Events, func(i, j int) bool { return raw.Events[i].Time.After(raw.Events[j].Time) })
	if raw.StatusText == "" && len(raw.Events) > 0 {
		raw.StatusCode = raw.Events[0].Code
		raw.StatusText = raw.Events[0].Description
	}
	return raw, nil
}

// BRT dates come either as DD/MM/YYYY or YYYY-MM-DD, time as HH:MM.
func parseEventTime(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	layout := "2006-01-02"
	if strings.Contains(date, "/") {
		layout = "02/01/2006"
	}
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.ParseInLocation(layout+" 15:04", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
