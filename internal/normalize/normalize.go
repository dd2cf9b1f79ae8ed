// Package normalize maps carrier-native tracking responses onto the
// canonical status enum. The per-carrier tables are fixed at compile time;
// codes not in a table degrade to UNKNOWN instead of failing the pipeline.
package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

// CanonicalStatus is the normalized outcome of one tracking response.
type CanonicalStatus struct {
	Status    string
	StatusRaw string
	// Latest event timestamp; maximum over all events, input order not trusted.
	StatusAt *time.Time
	Events   []*models.ShipmentEvent
	Payload  json.RawMessage
}

// DHL XMLPI service event codes.
var dhlCodes = map[string]string{
	"SD": models.StatusCreated, // shipment data received
	"PU": models.StatusInTransit,
	"PL": models.StatusInTransit, // processed at location
	"DF": models.StatusInTransit, // departed facility
	"AF": models.StatusInTransit, // arrived at facility
	"AR": models.StatusInTransit,
	"TR": models.StatusInTransit,
	"CC": models.StatusInTransit, // customs cleared
	"WC": models.StatusOutForDelivery, // with delivery courier
	"OK": models.StatusDelivered,
	"DD": models.StatusDelivered,
	"RT": models.StatusException, // returned
	"NH": models.StatusException, // not home
	"CM": models.StatusException, // customs/clearance event
	"BA": models.StatusException,
	"UD": models.StatusException, // undeliverable
}

// UPS activity status types from the XML Track response.
var upsCodes = map[string]string{
	"M":  models.StatusCreated, // manifest pickup
	"MV": models.StatusCreated,
	"P":  models.StatusInTransit, // pickup
	"I":  models.StatusInTransit,
	"O":  models.StatusOutForDelivery,
	"D":  models.StatusDelivered,
	"X":  models.StatusException,
	"RS": models.StatusException, // returned to shipper
}

// FedEx scan event types.
var fedexCodes = map[string]string{
	"OC": models.StatusCreated, // order created
	"PU": models.StatusInTransit,
	"PX": models.StatusInTransit,
	"AR": models.StatusInTransit,
	"DP": models.StatusInTransit,
	"IT": models.StatusInTransit,
	"AF": models.StatusInTransit,
	"OD": models.StatusOutForDelivery,
	"DL": models.StatusDelivered,
	"DE": models.StatusException, // delivery exception
	"SE": models.StatusException, // shipment exception
	"CA": models.StatusException, // cancelled
	"RS": models.StatusException,
}

// TNT ExpressConnect summary codes.
var tntCodes = map[string]string{
	"CNF": models.StatusCreated,
	"PUP": models.StatusInTransit,
	"INT": models.StatusInTransit,
	"ARR": models.StatusInTransit,
	"DEP": models.StatusInTransit,
	"OFD": models.StatusOutForDelivery,
	"OK":  models.StatusDelivered,
	"DEL": models.StatusDelivered,
	"EXC": models.StatusException,
	"RTS": models.StatusException,
}

// SpediamoPro numeric shipment states (stato 0..12).
var spediamoCodes = map[string]string{
	"0":  models.StatusClosed, // annullata
	"1":  models.StatusCreated,
	"2":  models.StatusException, // non valida
	"3":  models.StatusCreated,
	"4":  models.StatusCreated, // pagata
	"5":  models.StatusCreated, // elaborata
	"6":  models.StatusCreated, // richiesta ritiro
	"7":  models.StatusInTransit, // partita
	"8":  models.StatusInTransit,
	"9":  models.StatusOutForDelivery,
	"10": models.StatusDelivered,
	"11": models.StatusException,
	"12": models.StatusOutForDelivery, // disponibile presso punto di ritiro
}

// The in-process fake carrier reports canonical-shaped codes directly.
var fakeCodes = map[string]string{
	"CREATED":          models.StatusCreated,
	"TRANSIT":          models.StatusInTransit,
	"OUT_FOR_DELIVERY": models.StatusOutForDelivery,
	"DELIVERED":        models.StatusDelivered,
}

var tables = map[string]map[string]string{
	models.CarrierDHL:         dhlCodes,
	models.CarrierUPS:         upsCodes,
	models.CarrierFedEx:       fedexCodes,
	models.CarrierTNT:         tntCodes,
	models.CarrierSpediamoPro: spediamoCodes,
	"FAKE":                    fakeCodes,
}

// SDA and BRT report free-text Italian descriptions instead of stable codes;
// they are matched by keyword.
var italianKeywords = []struct {
	needle string
	status string
}{
	{"CONSEGNAT", models.StatusDelivered},
	{"DELIVERED", models.StatusDelivered},
	{"IN CONSEGNA", models.StatusOutForDelivery},
	{"OUT FOR DELIVERY", models.StatusOutForDelivery},
	{"GIACENZA", models.StatusException},
	{"RESPINT", models.StatusException},
	{"RIENTRAT", models.StatusException},
	{"TRANSITO", models.StatusInTransit},
	{"PARTITA", models.StatusInTransit},
	{"ARRIVAT", models.StatusInTransit},
	{"SMISTAMENTO", models.StatusInTransit},
	{"PRESA IN CARICO", models.StatusInTransit},
	{"ACCETTAT", models.StatusCreated},
	{"SPEDIZIONE CREATA", models.StatusCreated},
}

func mapCode(carrierCode, code, description string) string {
	if t, ok := tables[carrierCode]; ok {
		if s, ok := t[strings.ToUpper(strings.TrimSpace(code))]; ok {
			return s
		}
	}
	switch carrierCode {
	case models.CarrierSDA, models.CarrierBRT:
		up := strings.ToUpper(description)
		if up == "" {
			up = strings.ToUpper(code)
		}
		for _, kw := range italianKeywords {
			if strings.Contains(up, kw.needle) {
				return kw.status
			}
		}
	}
	return models.StatusUnknown
}

// Normalize maps one raw tracking response to the canonical representation.
// A response with neither a status code nor events is malformed; anything
// else degrades per-code to UNKNOWN.
func Normalize(carrierCode string, raw carriers.RawTracking) (CanonicalStatus, error) {
	if raw.StatusCode == "" && raw.StatusText == "" && len(raw.Events) == 0 {
		return CanonicalStatus{}, carriers.NewError(carrierCode, carriers.KindMalformed, "response has no status and no events")
	}

	out := CanonicalStatus{Payload: raw.Payload}

	var latest *carriers.RawEvent
	for i := range raw.Events {
		ev := raw.Events[i]
		status := mapCode(carrierCode, ev.Code, ev.Description)
		if status == models.StatusUnknown && ev.Code != "" {
			slog.Debug("unmapped carrier event code", "carrier", carrierCode, "code", ev.Code)
		}
		me := &models.ShipmentEvent{
			Status:    status,
			StatusRaw: rawLabel(ev.Code, ev.Description),
			EventTime: ev.Time,
		}
		if ev.Location != "" {
			loc := ev.Location
			me.Location = &loc
		}
		if ev.Description != "" {
			msg := ev.Description
			me.Message = &msg
		}
		out.Events = append(out.Events, me)

		if !ev.Time.IsZero() && (latest == nil || ev.Time.After(latest.Time)) {
			latest = &raw.Events[i]
		}
	}

	// Prefer the carrier-reported current status; fall back to the latest event.
	switch {
	case raw.StatusCode != "" || raw.StatusText != "":
		out.StatusRaw = rawLabel(raw.StatusCode, raw.StatusText)
		out.Status = mapCode(carrierCode, raw.StatusCode, raw.StatusText)
	case latest != nil:
		out.StatusRaw = rawLabel(latest.Code, latest.Description)
		out.Status = mapCode(carrierCode, latest.Code, latest.Description)
	default:
		// Events exist but carry no timestamps; take the last one as-is.
		last := raw.Events[len(raw.Events)-1]
		out.StatusRaw = rawLabel(last.Code, last.Description)
		out.Status = mapCode(carrierCode, last.Code, last.Description)
	}

	if out.Status == models.StatusUnknown {
		slog.Warn("carrier status not recognized, degrading to UNKNOWN",
			"carrier", carrierCode, "status_raw", out.StatusRaw)
	}

	if latest != nil {
		ts := latest.Time.UTC()
		out.StatusAt = &ts
	}
	return out, nil
}

func rawLabel(code, description string) string {
	code = strings.TrimSpace(code)
	description = strings.TrimSpace(description)
	switch {
	case code != "" && description != "":
		return code + " " + description
	case code != "":
		return code
	default:
		return description
	}
}
