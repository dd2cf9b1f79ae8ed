package shipmentsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
	"github.com/spediware/trackhub/internal/scheduler"
	"github.com/spediware/trackhub/internal/services/shipments"
)

type fakeRepo struct {
	created []*models.Shipment
	got     []*models.Shipment
	events  []*models.ShipmentEvent

	archived []uint64
}

func (r *fakeRepo) CreateOrGetShipments(context.Context, []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	return r.created, nil
}
func (r *fakeRepo) GetShipmentsByIDs(context.Context, []uint64) ([]*models.Shipment, error) {
	return r.got, nil
}
func (r *fakeRepo) ListShipmentEvents(context.Context, uint64, int, int) ([]*models.ShipmentEvent, error) {
	return r.events, nil
}
func (r *fakeRepo) RequestRefresh(context.Context, uint64) error { return nil }
func (r *fakeRepo) Archive(_ context.Context, id uint64) error {
	r.archived = append(r.archived, id)
	return nil
}

type fakeRefresher struct{ err error }

func (f *fakeRefresher) RefreshOnDemand(context.Context, uint64) error { return f.err }

type fakeRegistry struct {
	quotes    []carriers.Quote
	quoteErrs []error
}

func (r *fakeRegistry) Get(code string) (carriers.Client, error) {
	if code == models.CarrierDHL {
		return nil, nil
	}
	return nil, carriers.NewError(code, carriers.KindInvalidRequest, "carrier not configured")
}
func (r *fakeRegistry) QuoteAll(context.Context, carriers.QuoteRequest) ([]carriers.Quote, []error) {
	return r.quotes, r.quoteErrs
}

func newTestServer(repo *fakeRepo, reg *fakeRegistry, ref shipments.Refresher) *httptest.Server {
	svc := shipments.New(repo, nil, reg, ref, 0, 0)
	return httptest.NewServer(New(svc).Routes())
}

func testShipment() *models.Shipment {
	now := time.Now().UTC()
	return &models.Shipment{
		ID:             1,
		CarrierCode:    models.CarrierDHL,
		TrackingNumber: "ABC123",
		Status:         models.StatusInTransit,
		StatusRaw:      "AF Arrived at facility",
		NextCheckAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestAPI_CreateShipments(t *testing.T) {
	repo := &fakeRepo{created: []*models.Shipment{testShipment()}}
	ts := newTestServer(repo, &fakeRegistry{}, nil)
	defer ts.Close()

	body := `{"items":[{"carrierCode":"DHL","trackingNumber":"ABC123"}]}`
	resp, err := http.Post(ts.URL+"/shipments", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Shipments []shipmentDTO `json:"shipments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Shipments, 1)
	require.Equal(t, "DHL", out.Shipments[0].CarrierCode)
	require.Equal(t, models.StatusInTransit, out.Shipments[0].Status)
}

func TestAPI_CreateShipments_badRequests(t *testing.T) {
	ts := newTestServer(&fakeRepo{}, &fakeRegistry{}, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/shipments", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := `{"items":[{"carrierCode":"NOPE","trackingNumber":"X"}]}`
	resp, err = http.Post(ts.URL+"/shipments", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetShipment(t *testing.T) {
	repo := &fakeRepo{got: []*models.Shipment{testShipment()}}
	ts := newTestServer(repo, &fakeRegistry{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/shipments/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out shipmentDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, uint64(1), out.ID)
	require.Equal(t, "ABC123", out.TrackingNumber)

	resp, err = http.Get(ts.URL + "/shipments/abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetShipment_notFound(t *testing.T) {
	ts := newTestServer(&fakeRepo{}, &fakeRegistry{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/shipments/404")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListShipmentEvents(t *testing.T) {
	now := time.Now().UTC()
	loc := "MILAN"
	repo := &fakeRepo{events: []*models.ShipmentEvent{
		{ID: 10, ShipmentID: 1, Status: models.StatusInTransit, StatusRaw: "AF", EventTime: now, Location: &loc, CreatedAt: now},
	}}
	ts := newTestServer(repo, &fakeRegistry{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/shipments/1/events?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Events []shipmentEventDTO `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Events, 1)
	require.Equal(t, "MILAN", out.Events[0].Location)
}

func TestAPI_RefreshShipment_pendingReturns202(t *testing.T) {
	repo := &fakeRepo{got: []*models.Shipment{testShipment()}}
	ts := newTestServer(repo, &fakeRegistry{}, &fakeRefresher{err: scheduler.ErrRefreshPending})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/shipments/1/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Shipment       shipmentDTO `json:"shipment"`
		RefreshPending bool        `json:"refreshPending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.RefreshPending)
	require.Equal(t, uint64(1), out.Shipment.ID)
}

func TestAPI_RefreshShipment_ok(t *testing.T) {
	repo := &fakeRepo{got: []*models.Shipment{testShipment()}}
	ts := newTestServer(repo, &fakeRegistry{}, &fakeRefresher{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/shipments/1/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ArchiveShipment(t *testing.T) {
	repo := &fakeRepo{}
	ts := newTestServer(repo, &fakeRegistry{}, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/shipments/7/archive", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []uint64{7}, repo.archived)
}

func TestAPI_Quote(t *testing.T) {
	reg := &fakeRegistry{
		quotes: []carriers.Quote{
			{CarrierCode: models.CarrierDHL, ServiceCode: "N", ServiceName: "Domestic Express", TotalPrice: 12.5, Currency: "EUR", TransitDays: 1},
		},
		quoteErrs: []error{carriers.NewError(models.CarrierUPS, carriers.KindUpstream, "boom")},
	}
	ts := newTestServer(&fakeRepo{}, reg, nil)
	defer ts.Close()

	body := `{
		"originCountry":"IT","originPostal":"20100",
		"destinationCountry":"IT","destinationPostal":"00100",
		"packages":[{"weightKg":1.5,"lengthCm":30,"widthCm":20,"heightCm":10}]
	}`
	resp, err := http.Post(ts.URL+"/quotes", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Quotes []quoteDTO `json:"quotes"`
		Errors []string   `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Quotes, 1)
	require.Equal(t, 12.5, out.Quotes[0].TotalPrice)
	require.Len(t, out.Errors, 1)
}

func TestAPI_Quote_allFailed(t *testing.T) {
	reg := &fakeRegistry{
		quoteErrs: []error{carriers.NewError(models.CarrierDHL, carriers.KindUpstream, "boom")},
	}
	ts := newTestServer(&fakeRepo{}, reg, nil)
	defer ts.Close()

	body := `{
		"originCountry":"IT","originPostal":"20100",
		"destinationCountry":"IT","destinationPostal":"00100",
		"packages":[{"weightKg":1}]
	}`
	resp, err := http.Post(ts.URL+"/quotes", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStatusForKind(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusForKind(carriers.KindInvalidRequest))
	require.Equal(t, http.StatusNotFound, statusForKind(carriers.KindNotFound))
	require.Equal(t, http.StatusTooManyRequests, statusForKind(carriers.KindRateLimited))
	require.Equal(t, http.StatusGatewayTimeout, statusForKind(carriers.KindTimeout))
	require.Equal(t, http.StatusBadGateway, statusForKind(carriers.KindAuth))
	require.Equal(t, http.StatusBadGateway, statusForKind(carriers.KindUpstream))
	require.Equal(t, http.StatusInternalServerError, statusForKind(carriers.Kind("?")))
}
