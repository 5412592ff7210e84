package xfer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/xfer"
)

func TestPercentClampedTo100(t *testing.T) {
	require.Equal(t, 0.0, xfer.Percent(0, 0))
	require.Equal(t, 50.0, xfer.Percent(50, 100))
	require.Equal(t, 100.0, xfer.Percent(150, 100))
	require.Equal(t, 0.0, xfer.Percent(10, 0))
}

func TestSpeedTrackerFirstSampleIsZero(t *testing.T) {
	var s xfer.SpeedTracker
	require.Equal(t, 0.0, s.Sample(1000))
	require.Equal(t, 0.0, s.Speed())
}
