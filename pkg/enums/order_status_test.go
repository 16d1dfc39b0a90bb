package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusCompleted, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusPending, OrderStatusRefunded, false},
		{OrderStatusCompleted, OrderStatusDisputed, true},
		{OrderStatusCompleted, OrderStatusRefunded, true},
		{OrderStatusCompleted, OrderStatusPending, false},
		{OrderStatusDisputed, OrderStatusRefunded, true},
		{OrderStatusDisputed, OrderStatusCompleted, true},
		{OrderStatusRefunded, OrderStatusCompleted, false},
		{OrderStatusFailed, OrderStatusPending, false},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	require.True(t, OrderStatusRefunded.IsTerminal())
	require.True(t, OrderStatusFailed.IsTerminal())
	require.False(t, OrderStatusDisputed.IsTerminal())
}

func TestDisputeResolutionNormalize(t *testing.T) {
	verdict, err := NormalizeDisputeResolution("  Refund ")
	require.NoError(t, err)
	require.True(t, verdict.IsRefund())

	verdict, err = NormalizeDisputeResolution("seller_delivered")
	require.NoError(t, err)
	require.False(t, verdict.IsRefund())

	_, err = NormalizeDisputeResolution("   ")
	require.Error(t, err)
}

func TestParseDisputeFilterDefaultsToOpen(t *testing.T) {
	filter, err := ParseDisputeFilter("")
	require.NoError(t, err)
	require.Equal(t, DisputeFilterOpen, filter)

	_, err = ParseDisputeFilter("closed")
	require.Error(t, err)
}
