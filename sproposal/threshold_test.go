package sproposal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solid-engine/solid/sproposal"
)

func TestAcceptThreshold_IsExactBreach(t *testing.T) {
	t.Parallel()

	th := sproposal.MoreThanTwoThirds

	// 3 peers
	require.False(t, th.IsExactBreach(1, 3))
	require.False(t, th.IsExactBreach(2, 3))
	require.True(t, th.IsExactBreach(3, 3))

	// 4 peers
	require.False(t, th.IsExactBreach(1, 4))
	require.False(t, th.IsExactBreach(2, 4))
	require.True(t, th.IsExactBreach(3, 4))
	require.False(t, th.IsExactBreach(4, 4))

	// 5 peers
	require.False(t, th.IsExactBreach(3, 5))
	require.True(t, th.IsExactBreach(4, 5))
	require.False(t, th.IsExactBreach(5, 5))
}

func TestAcceptThreshold_InverseExceeded(t *testing.T) {
	t.Parallel()

	th := sproposal.MoreThanTwoThirds

	// 3 peers
	require.False(t, th.InverseExceeded(0, 3))
	require.True(t, th.InverseExceeded(1, 3))
	require.True(t, th.InverseExceeded(3, 3))

	// 4 peers
	require.False(t, th.InverseExceeded(0, 4))
	require.False(t, th.InverseExceeded(1, 4))
	require.True(t, th.InverseExceeded(2, 4))
	require.True(t, th.InverseExceeded(4, 4))
}

func TestAcceptThreshold_IsExceeded(t *testing.T) {
	t.Parallel()

	th := sproposal.MoreThanTwoThirds

	require.False(t, th.IsExceeded(0, 1))
	require.True(t, th.IsExceeded(1, 1))

	require.False(t, th.IsExceeded(2, 3))
	require.True(t, th.IsExceeded(3, 3))
}

func TestAcceptThreshold_Majority(t *testing.T) {
	t.Parallel()

	th := sproposal.Majority

	require.Equal(t, 3, th.Threshold(4))
	require.Equal(t, 3, th.Threshold(5))

	require.True(t, th.IsExactBreach(3, 4))
	require.False(t, th.IsExactBreach(4, 4))

	// For a majority threshold the inverse is met once a majority-blocking
	// half has voted elsewhere.
	require.False(t, th.InverseExceeded(1, 4))
	require.True(t, th.InverseExceeded(2, 4))
}

func TestAcceptThreshold_ZeroValueIsTwoThirds(t *testing.T) {
	t.Parallel()

	var th sproposal.AcceptThreshold
	require.Equal(t, sproposal.MoreThanTwoThirds, th)
	require.Equal(t, 3, th.Threshold(4))
}
