package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceStatus_Forward(t *testing.T) {
	require.Equal(t, StatusInTransit, AdvanceStatus(StatusCreated, StatusInTransit))
	require.Equal(t, StatusOutForDelivery, AdvanceStatus(StatusInTransit, StatusOutForDelivery))
	require.Equal(t, StatusDelivered, AdvanceStatus(StatusOutForDelivery, StatusDelivered))
	require.Equal(t, StatusDelivered, AdvanceStatus(StatusCreated, StatusDelivered))
}

func TestAdvanceStatus_NoRegression(t *testing.T) {
	require.Equal(t, StatusDelivered, AdvanceStatus(StatusDelivered, StatusInTransit))
	require.Equal(t, StatusOutForDelivery, AdvanceStatus(StatusOutForDelivery, StatusCreated))
	require.Equal(t, StatusInTransit, AdvanceStatus(StatusInTransit, StatusCreated))
}

func TestAdvanceStatus_UnknownNeverOverwrites(t *testing.T) {
	require.Equal(t, StatusInTransit, AdvanceStatus(StatusInTransit, StatusUnknown))
	require.Equal(t, StatusDelivered, AdvanceStatus(StatusDelivered, ""))
	require.Equal(t, StatusUnknown, AdvanceStatus("", StatusUnknown))
}

func TestAdvanceStatus_Exception(t *testing.T) {
	require.Equal(t, StatusException, AdvanceStatus(StatusCreated, StatusException))
	require.Equal(t, StatusException, AdvanceStatus(StatusOutForDelivery, StatusException))
	// Delivered is final business state, an exception after delivery keeps it.
	require.Equal(t, StatusDelivered, AdvanceStatus(StatusDelivered, StatusException))
}

func TestAdvanceStatus_ClosedFromAnywhere(t *testing.T) {
	require.Equal(t, StatusClosed, AdvanceStatus(StatusCreated, StatusClosed))
	require.Equal(t, StatusClosed, AdvanceStatus(StatusDelivered, StatusClosed))
	require.Equal(t, StatusClosed, AdvanceStatus(StatusException, StatusClosed))
	require.Equal(t, StatusClosed, AdvanceStatus(StatusClosed, StatusInTransit))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(StatusDelivered))
	require.True(t, IsTerminal(StatusException))
	require.True(t, IsTerminal(StatusClosed))
	require.False(t, IsTerminal(StatusInTransit))
	require.False(t, IsTerminal(StatusUnknown))
}
