package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchTrackingStatusDeterministic(t *testing.T) {
	c := New()

	first, err := c.FetchTrackingStatus(context.Background(), "FAKE-001")
	require.NoError(t, err)
	second, err := c.FetchTrackingStatus(context.Background(), "FAKE-001")
	require.NoError(t, err)

	require.Equal(t, first.StatusCode, second.StatusCode)
	require.NotEmpty(t, first.StatusText)
	require.Len(t, first.Events, 1)
}

func TestFetchTrackingStatusSpread(t *testing.T) {
	c := New()
	seen := map[string]bool{}
	for _, n := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		raw, err := c.FetchTrackingStatus(context.Background(), n)
		require.NoError(t, err)
		seen[raw.StatusCode] = true
	}
	// different numbers land in different lifecycle positions
	require.Greater(t, len(seen), 1)
}
