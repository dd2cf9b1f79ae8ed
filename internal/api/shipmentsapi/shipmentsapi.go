// Package shipmentsapi is the REST surface over the shipments service:
// registration, current status, event history, on-demand refresh, archive
// and multi-carrier quoting.
package shipmentsapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
	"github.com/spediware/trackhub/internal/scheduler"
	"github.com/spediware/trackhub/internal/services/shipments"
)

type ShipmentsAPI struct {
	svc *shipments.Service
}

func New(svc *shipments.Service) *ShipmentsAPI {
	return &ShipmentsAPI{svc: svc}
}

func (a *ShipmentsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/shipments", a.createShipments)
	r.Get("/shipments/{shipmentID}", a.getShipment)
	r.Get("/shipments/{shipmentID}/events", a.listShipmentEvents)
	r.Post("/shipments/{shipmentID}/refresh", a.refreshShipment)
	r.Post("/shipments/{shipmentID}/archive", a.archiveShipment)
	r.Post("/quotes", a.quote)
	return r
}

type shipmentDTO struct {
	ID             uint64     `json:"id"`
	CarrierCode    string     `json:"carrierCode"`
	TrackingNumber string     `json:"trackingNumber"`
	Status         string     `json:"status"`
	StatusRaw      string     `json:"statusRaw,omitempty"`
	StatusAt       *time.Time `json:"statusAt,omitempty"`
	LastRefreshAt  *time.Time `json:"lastRefreshAt,omitempty"`
	NextCheckAt    time.Time  `json:"nextCheckAt"`
	FailCount      int32      `json:"failCount"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type shipmentEventDTO struct {
	ID        uint64    `json:"id"`
	Status    string    `json:"status"`
	StatusRaw string    `json:"statusRaw,omitempty"`
	EventTime time.Time `json:"eventTime"`
	Location  string    `json:"location,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type createShipmentsRequest struct {
	Items []struct {
		CarrierCode    string `json:"carrierCode"`
		TrackingNumber string `json:"trackingNumber"`
	} `json:"items"`
}

type quoteRequest struct {
	OriginCountry      string  `json:"originCountry"`
	OriginPostal       string  `json:"originPostal"`
	OriginCity         string  `json:"originCity,omitempty"`
	DestinationCountry string  `json:"destinationCountry"`
	DestinationPostal  string  `json:"destinationPostal"`
	DestinationCity    string  `json:"destinationCity,omitempty"`
	DeclaredValueEUR   float64 `json:"declaredValueEur,omitempty"`
	Documents          bool    `json:"documents,omitempty"`
	Packages           []struct {
		WeightKg float64 `json:"weightKg"`
		LengthCm int     `json:"lengthCm"`
		WidthCm  int     `json:"widthCm"`
		HeightCm int     `json:"heightCm"`
	} `json:"packages"`
	ServiceCodes []string `json:"serviceCodes,omitempty"`
}

type quoteDTO struct {
	CarrierCode string  `json:"carrierCode"`
	ServiceCode string  `json:"serviceCode"`
	ServiceName string  `json:"serviceName,omitempty"`
	TotalPrice  float64 `json:"totalPrice"`
	Currency    string  `json:"currency"`
	TransitDays int     `json:"transitDays,omitempty"`
}

func (a *ShipmentsAPI) createShipments(w http.ResponseWriter, r *http.Request) {
	var req createShipmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, carriers.NewError("", carriers.KindInvalidRequest, "invalid json body"))
		return
	}
	in := make([]models.ShipmentCreateInput, 0, len(req.Items))
	for _, it := range req.Items {
		in = append(in, models.ShipmentCreateInput{
			CarrierCode:    it.CarrierCode,
			TrackingNumber: it.TrackingNumber,
		})
	}

	created, err := a.svc.CreateShipments(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shipments": toDTOs(created)})
}

func (a *ShipmentsAPI) getShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	sh, err := a.svc.GetShipment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(sh))
}

func (a *ShipmentsAPI) listShipmentEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := a.svc.ListShipmentEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]shipmentEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, shipmentEventDTO{
			ID:        e.ID,
			Status:    e.Status,
			StatusRaw: e.StatusRaw,
			EventTime: e.EventTime,
			Location:  derefString(e.Location),
			Message:   derefString(e.Message),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// refreshShipment forces a refresh. If one is already running the stored
// snapshot is returned with 202 and refreshPending=true instead of an error.
func (a *ShipmentsAPI) refreshShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	sh, err := a.svc.RefreshShipment(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"shipment": toDTO(sh), "refreshPending": false})
	case errors.Is(err, scheduler.ErrRefreshPending):
		writeJSON(w, http.StatusAccepted, map[string]any{"shipment": toDTO(sh), "refreshPending": true})
	default:
		writeError(w, err)
	}
}

func (a *ShipmentsAPI) archiveShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}
	if err := a.svc.ArchiveShipment(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *ShipmentsAPI) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, carriers.NewError("", carriers.KindInvalidRequest, "invalid json body"))
		return
	}
	in := carriers.QuoteRequest{
		OriginCountry:      req.OriginCountry,
		OriginPostal:       req.OriginPostal,
		OriginCity:         req.OriginCity,
		DestinationCountry: req.DestinationCountry,
		DestinationPostal:  req.DestinationPostal,
		DestinationCity:    req.DestinationCity,
		DeclaredValueEUR:   req.DeclaredValueEUR,
		Documents:          req.Documents,
		ServiceCodes:       req.ServiceCodes,
	}
	for _, p := range req.Packages {
		in.Packages = append(in.Packages, carriers.Package{
			WeightKg: p.WeightKg,
			LengthCm: p.LengthCm,
			WidthCm:  p.WidthCm,
			HeightCm: p.HeightCm,
		})
	}

	quotes, errs := a.svc.Quote(r.Context(), in)
	if len(quotes) == 0 && len(errs) > 0 {
		writeError(w, errs[0])
		return
	}

	out := make([]quoteDTO, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, quoteDTO{
			CarrierCode: q.CarrierCode,
			ServiceCode: q.ServiceCode,
			ServiceName: q.ServiceName,
			TotalPrice:  q.TotalPrice,
			Currency:    q.Currency,
			TransitDays: q.TransitDays,
		})
	}
	failed := make([]string, 0, len(errs))
	for _, e := range errs {
		failed = append(failed, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": out, "errors": failed})
}

func shipmentID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "shipmentID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, carriers.NewError("", carriers.KindInvalidRequest, "invalid shipment id"))
		return 0, false
	}
	return id, true
}

func toDTO(sh *models.Shipment) shipmentDTO {
	return shipmentDTO{
		ID:             sh.ID,
		CarrierCode:    sh.CarrierCode,
		TrackingNumber: sh.TrackingNumber,
		Status:         sh.Status,
		StatusRaw:      sh.StatusRaw,
		StatusAt:       sh.StatusAt,
		LastRefreshAt:  sh.LastRefreshAt,
		NextCheckAt:    sh.NextCheckAt,
		FailCount:      sh.FailCount,
		LastError:      derefString(sh.LastError),
		CreatedAt:      sh.CreatedAt,
		UpdatedAt:      sh.UpdatedAt,
	}
}

func toDTOs(shs []*models.Shipment) []shipmentDTO {
	out := make([]shipmentDTO, 0, len(shs))
	for _, sh := range shs {
		out = append(out, toDTO(sh))
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// statusForKind maps carrier error kinds to HTTP statuses. Anything that is
// not a classified carrier error is a 500.
func statusForKind(k carriers.Kind) int {
	switch k {
	case carriers.KindInvalidRequest:
		return http.StatusBadRequest
	case carriers.KindNotFound:
		return http.StatusNotFound
	case carriers.KindRateLimited:
		return http.StatusTooManyRequests
	case carriers.KindTimeout:
		return http.StatusGatewayTimeout
	case carriers.KindAuth, carriers.KindUpstream, carriers.KindMalformed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	var cerr *carriers.Error
	status := http.StatusInternalServerError
	if errors.As(err, &cerr) {
		status = statusForKind(cerr.Kind)
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err.Error())
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
