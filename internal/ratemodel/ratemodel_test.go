package ratemodel

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentRatesStaticWhenNotProgressive(t *testing.T) {
	m := Model{BaseUploadRate: 500, BaseDownloadRate: 0}
	up, down := m.CurrentRates(100, rand.New(rand.NewPCG(1, 2)))
	require.Equal(t, 500.0, up)
	require.Equal(t, 0.0, down)
}

func TestProgressiveRateInterpolatesLinearly(t *testing.T) {
	m := Model{
		BaseUploadRate:         100,
		Progressive:            true,
		TargetUploadRate:       300,
		ProgressiveHorizonSecs: 100,
	}
	rng := rand.New(rand.NewPCG(1, 2))

	up, _ := m.CurrentRates(0, rng)
	require.Equal(t, 100.0, up)

	up, _ = m.CurrentRates(50, rng)
	require.Equal(t, 200.0, up)

	up, _ = m.CurrentRates(100, rng)
	require.Equal(t, 300.0, up)
}

func TestProgressiveRateClampsAtHorizon(t *testing.T) {
	m := Model{
		BaseUploadRate:         100,
		Progressive:            true,
		TargetUploadRate:       300,
		ProgressiveHorizonSecs: 100,
	}
	up, _ := m.CurrentRates(1000, rand.New(rand.NewPCG(1, 2)))
	require.Equal(t, 300.0, up)
}

func TestJitterStaysWithinRange(t *testing.T) {
	m := Model{BaseUploadRate: 1000, Randomize: true, JitterRangePercent: 20}
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 200; i++ {
		up, _ := m.CurrentRates(0, rng)
		require.GreaterOrEqual(t, up, 1000*0.8)
		require.LessOrEqual(t, up, 1000*1.2)
	}
}

func TestBytesForTickClampsNegativeToZero(t *testing.T) {
	require.Equal(t, uint64(0), BytesForTick(-5, 1))
	require.Equal(t, uint64(0), BytesForTick(0, 1))
}

func TestBytesForTickComputesDelta(t *testing.T) {
	// 10 KiB/s for 2 seconds = 20 KiB = 20480 bytes.
	require.Equal(t, uint64(20480), BytesForTick(10, 2))
}
