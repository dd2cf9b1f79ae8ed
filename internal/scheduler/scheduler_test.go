package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/models"
)

type fakeClaimer struct {
	batches [][]*models.Shipment
	err     error
	calls   int
}

func (c *fakeClaimer) ClaimDueShipments(_ context.Context, _ time.Time, _ int, _ time.Duration, _ int32) ([]*models.Shipment, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.batches) == 0 {
		return nil, nil
	}
	b := c.batches[0]
	c.batches = c.batches[1:]
	return b, nil
}

func TestScheduler_runOnce(t *testing.T) {
	now := time.Now().UTC()
	sh1 := testShipment(1, 0)
	sh2 := testShipment(2, 0)
	sh2.TrackingNumber = "XYZ987"
	store := newFakeStore(sh1, sh2)
	prod := &fakeProducer{}
	client := &fakeClient{code: models.CarrierDHL, res: carriers.RawTracking{
		StatusCode: "WC",
		StatusText: "With delivery courier",
		Events:     []carriers.RawEvent{{Code: "WC", Description: "With delivery courier", Time: now}},
	}}
	r := newTestRefresher(store, client, nil, prod, &fakeSink{})

	s := New(&fakeClaimer{batches: [][]*models.Shipment{{sh1, sh2}}}, r)
	s.runOnce(context.Background())

	st := s.Stats()
	require.Equal(t, int64(2), st.TotalClaimed)
	require.Equal(t, int64(2), st.TotalProcessed)
	require.Equal(t, int64(0), st.TotalErrors)
	require.Equal(t, int64(0), st.InFlight)
	require.Len(t, store.successes, 2)
	require.Len(t, prod.values, 2)
	require.NotNil(t, st.LastCycleAt)
}

func TestScheduler_runOnce_countsErrors(t *testing.T) {
	sh := testShipment(1, 0)
	store := newFakeStore(sh)
	client := &fakeClient{
		code: models.CarrierDHL,
		err:  carriers.NewError(models.CarrierDHL, carriers.KindUpstream, "boom"),
	}
	r := newTestRefresher(store, client, nil, nil, &fakeSink{})

	s := New(&fakeClaimer{batches: [][]*models.Shipment{{sh}}}, r)
	s.runOnce(context.Background())

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "boom")
}

func TestScheduler_runOnce_claimError(t *testing.T) {
	r := newTestRefresher(newFakeStore(), &fakeClient{code: models.CarrierDHL}, nil, nil, &fakeSink{})
	s := New(&fakeClaimer{err: errors.New("db down")}, r)
	s.runOnce(context.Background())

	st := s.Stats()
	require.Equal(t, "db down", st.LastError)
	require.Equal(t, int64(0), st.TotalClaimed)
}

func TestScheduler_TriggerIsNonBlocking(t *testing.T) {
	r := newTestRefresher(newFakeStore(), &fakeClient{code: models.CarrierDHL}, nil, nil, &fakeSink{})
	s := New(&fakeClaimer{}, r)

	// Nothing is draining triggerCh; repeated triggers must not block.
	for i := 0; i < 5; i++ {
		s.Trigger()
	}
	require.NotNil(t, s.Stats().LastTriggerAt)
}

func TestScheduler_WithSettings(t *testing.T) {
	r := newTestRefresher(newFakeStore(), &fakeClient{code: models.CarrierDHL}, nil, nil, &fakeSink{})
	s := New(&fakeClaimer{}, r).WithSettings(3*time.Second, 50, 4)

	require.Equal(t, 3*time.Second, s.pollInterval)
	require.Equal(t, 50, s.batchSize)
	require.Equal(t, 4, s.concurrency)

	s = s.WithSettings(0, 0, 0)
	require.Equal(t, 3*time.Second, s.pollInterval)
	require.Equal(t, 50, s.batchSize)
	require.Equal(t, 4, s.concurrency)
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	r := newTestRefresher(newFakeStore(), &fakeClient{code: models.CarrierDHL}, nil, nil, &fakeSink{})
	s := New(&fakeClaimer{}, r).WithSettings(10*time.Millisecond, 0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, s.Stats().TotalClaimed, int64(0))
}
