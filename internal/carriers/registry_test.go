package carriers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubClient struct {
	code   string
	quotes []Quote
	err    error
}

func (c *stubClient) Code() string { return c.code }

func (c *stubClient) FetchTrackingStatus(ctx context.Context, trackingNumber string) (RawTracking, error) {
	return RawTracking{CarrierCode: c.code, TrackingNumber: trackingNumber}, nil
}

func (c *stubClient) FetchQuote(ctx context.Context, req QuoteRequest) ([]Quote, error) {
	return c.quotes, c.err
}

type trackOnlyClient struct{ code string }

func (c *trackOnlyClient) Code() string { return c.code }

func (c *trackOnlyClient) FetchTrackingStatus(ctx context.Context, trackingNumber string) (RawTracking, error) {
	return RawTracking{}, nil
}

func TestRegistry_GetAndCodes(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubClient{code: "DHL"})
	r.Register(&trackOnlyClient{code: "BRT"})

	c, err := r.Get("DHL")
	require.NoError(t, err)
	require.Equal(t, "DHL", c.Code())

	_, err = r.Get("GLS")
	require.Error(t, err)
	require.Equal(t, KindInvalidRequest, KindOf(err))

	require.ElementsMatch(t, []string{"DHL", "BRT"}, r.Codes())
}

func TestRegistry_QuoteAll_PartialFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubClient{code: "UPS", quotes: []Quote{{CarrierCode: "UPS", ServiceCode: "UPSSTD", TotalPrice: 9.9, Currency: "EUR"}}})
	r.Register(&stubClient{code: "DHL", err: NewError("DHL", KindUpstream, "http 500")})
	r.Register(&trackOnlyClient{code: "BRT"}) // no quoting, must be skipped

	quotes, errs := r.QuoteAll(context.Background(), QuoteRequest{})
	require.Len(t, quotes, 1)
	require.Equal(t, "UPS", quotes[0].CarrierCode)
	require.Len(t, errs, 1)
	require.Equal(t, KindUpstream, KindOf(errs[0]))
}
