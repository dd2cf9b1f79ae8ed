// Package tnt integrates the TNT ExpressConnect consignment tracking
// interface (MYTRA XML documents posted to express.tnt.com/xml).
package tnt

import (
	"bytes"
	"context"
	"encoding/xml"
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

const defaultBaseURL = "https://express.tnt.com/xml"

type Config struct {
	Customer  string
	User      string
	Password  string
	AccountNo string
	LangID    string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.LangID == "" {
		cfg.LangID = "IT"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Code() string { return models.CarrierTNT }

type trackActivity struct {
	Date        string `xml:"Date"`
	Time        string `xml:"Time"`
	StatusCode  string `xml:"StatusCode"`
	Description string `xml:"Description"`
	Depot       string `xml:"Depot"`
}

type trackDocument struct {
	ErrorDetails *struct {
		ErrorCode    string `xml:"ErrorCode"`
		ErrorMessage string `xml:"ErrorMessage"`
	} `xml:"ErrorDetails"`
	Consignment *struct {
		ConNo            string          `xml:"ConNo"`
		Service          string          `xml:"Service"`
		OriginDepot      string          `xml:"OriginDepot"`
		DestinationDepot string          `xml:"DestinationDepot"`
		Activities       []trackActivity `xml:"StatusData>Activity"`
		FlatActivities   []trackActivity `xml:"Activity"`
	} `xml:"Consignment"`
}

func (c *Client) FetchTrackingStatus(ctx context.Context, trackingNumber string) (carriers.RawTracking, error) {
	if err := carriers.ValidateTrackingNumber(models.CarrierTNT, trackingNumber); err != nil {
		return carriers.RawTracking{}, err
	}

	reqXML := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Document>
<Application>MYTRA</Application>
<Version>3.0</Version>
<Login><Customer>%s</Customer><User>%s</User><Password>%s</Password><LangID>%s</LangID></Login>
<SearchCriteria><ConNo>%s</ConNo><AccountNo>%s</AccountNo><ReceiverPay>N</ReceiverPay><PODSearch>Y</PODSearch></SearchCriteria>
<SearchParameters><SearchType>Detail</SearchType><SearchOption>ConsignmentTracking</SearchOption><SearchMethod>Forward</SearchMethod></SearchParameters>
<ExtraDetails>OriginDepot,HeldInDepot,ConsignmentDetail</ExtraDetails>
</Document>`,
		xmlEscape(c.cfg.Customer), xmlEscape(c.cfg.User), xmlEscape(c.cfg.Password), xmlEscape(c.cfg.LangID),
		xmlEscape(trackingNumber), xmlEscape(c.cfg.AccountNo))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewBufferString(reqXML))
	if err != nil {
		return carriers.RawTracking{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierTNT, carriers.KindOf(err), "track call failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierTNT, carriers.ClassifyHTTP(resp.StatusCode),
			fmt.Sprintf("track http %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierTNT, carriers.KindUpstream, "read response").WithCause(err)
	}

	var doc trackDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierTNT, carriers.KindMalformed, "decode track response").WithCause(err)
	}
	if doc.ErrorDetails != nil {
		kind := carriers.KindUpstream
		msg := strings.ToLower(doc.ErrorDetails.ErrorMessage)
		switch {
		case strings.Contains(msg, "login") || strings.Contains(msg, "password") || strings.Contains(msg, "invalid user"):
			kind = carriers.KindAuth
		case strings.Contains(msg, "not found") || strings.Contains(msg, "no result"):
			kind = carriers.KindNotFound
		}
		return carriers.RawTracking{}, carriers.NewError(models.CarrierTNT, kind,
			fmt.Sprintf("error %s: %s", doc.ErrorDetails.ErrorCode, doc.ErrorDetails.ErrorMessage))
	}
	if doc.Consignment == nil {
		return carriers.RawTracking{}, carriers.NewError(models.CarrierTNT, carriers.KindNotFound, "consignment not found")
	}

	activities := doc.Consignment.Activities
	if len(activities) == 0 {
		activities = doc.Consignment.FlatActivities
	}

	raw := carriers.RawTracking{
		CarrierCode:    models.CarrierTNT,
		TrackingNumber: trackingNumber,
		Payload:        body,
	}
	for _, act := range activities {
		t := parseActivityTime(act.Date, act.Time)
		if t.IsZero() {
			continue
		}
		raw.Events = append(raw.Events, carriers.RawEvent{
			Code:        act.StatusCode,
			Description: act.Description,
			Location:    act.Depot,
			Time:        t,
		})
	}
	// newest first; the ExpressConnect order is not guaranteed
	sort.Slice(raw.Events, func(i, j int) bool { return raw.Events[i].Time.After(raw.Events[j].Time) })
	if len(raw.Events) > 0 {
		raw.StatusCode = raw.Events[0].Code
		raw.StatusText = raw.Events[0].Description
	}
	return raw, nil
}

func parseActivityTime(date, clock string) time.Time {
	if date == "" || clock == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
