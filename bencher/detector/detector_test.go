package detector_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/detector"
	"go.bencher.dev/core/bencher/model"
)

func p(v float64) *float64 { return &v }

func TestDetect_ZScore_ConstantSample_NoDetection(t *testing.T) {
	d := detector.Detect([]float64{10, 10, 10}, 15, detector.Params{
		Test: model.TestZScore, UpperP: p(0.977),
	})
	require.Nil(t, d.UpperLimit)
	require.Nil(t, d.Side)
}

func TestDetect_ZScore_Normal_ClassifiesSides(t *testing.T) {
	sample := make([]float64, 0, 200)
	// A population with mean about 100 and sd about 8.2, constructed deterministically
	// (no math/rand, since this must be reproducible without running it).
	for i := -99; i <= 100; i++ {
		sample = append(sample, 100+float64(i)/10.0*math.Sqrt(2))
	}
	params := detector.Params{Test: model.TestZScore, LowerP: p(0.023), UpperP: p(0.977)}

	high := detector.Detect(sample, sample[len(sample)-1]+1000, params)
	require.NotNil(t, high.Side)
	require.Equal(t, model.SideRight, *high.Side)

	low := detector.Detect(sample, sample[0]-1000, params)
	require.NotNil(t, low.Side)
	require.Equal(t, model.SideLeft, *low.Side)
}

func TestDetect_IQR_KnownSample_MatchesExpectedQuartiles(t *testing.T) {
	d := detector.Detect([]float64{-6, -6, 1, 1, 9, 9}, 0, detector.Params{
		Test: model.TestIQR, Multiplier: 3, LowerOn: true, UpperOn: true,
	})
	require.NotNil(t, d.Baseline)
	require.InDelta(t, 1, *d.Baseline, 1e-9)
	require.NotNil(t, d.LowerLimit)
	require.InDelta(t, -4.25-33.75, *d.LowerLimit, 1e-9)
	require.NotNil(t, d.UpperLimit)
	require.InDelta(t, 7+33.75, *d.UpperLimit, 1e-9)
}

func TestDetect_Percentile_SingleElement_LowerEqualsUpper(t *testing.T) {
	d := detector.Detect([]float64{42}, 42, detector.Params{
		Test: model.TestPercentile, LowerP: p(0.1), UpperP: p(0.9),
	})
	require.NotNil(t, d.LowerLimit)
	require.NotNil(t, d.UpperLimit)
	require.Equal(t, *d.LowerLimit, *d.UpperLimit)
	require.Equal(t, 42.0, *d.LowerLimit)
}

func TestDetect_Percentile_Monotonicity_UpperPNonDecreasing(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	low := detector.Detect(sample, 0, detector.Params{Test: model.TestPercentile, UpperP: p(0.5)})
	high := detector.Detect(sample, 0, detector.Params{Test: model.TestPercentile, UpperP: p(0.9)})
	require.LessOrEqual(t, *low.UpperLimit, *high.UpperLimit)
}

func TestDetect_NonFiniteNewValue_Skipped(t *testing.T) {
	d := detector.Detect([]float64{1, 2, 3}, math.NaN(), detector.Params{Test: model.TestIQR, Multiplier: 1.5, UpperOn: true})
	require.Equal(t, detector.Detection{}, d)
}

func TestDetect_EmptySample_Skipped(t *testing.T) {
	d := detector.Detect(nil, 1, detector.Params{Test: model.TestIQR, Multiplier: 1.5, UpperOn: true})
	require.Equal(t, detector.Detection{}, d)
}

func TestDetect_ValueEqualToLimit_NotAnOutlier(t *testing.T) {
	d := detector.Detect([]float64{-6, -6, 1, 1, 9, 9}, 40.75, detector.Params{
		Test: model.TestIQR, Multiplier: 3, UpperOn: true,
	})
	require.Nil(t, d.Side, "value exactly at the limit must not trigger a side (open interval)")
}

func TestDetect_StaticLower_BelowLimit_SideLeft(t *testing.T) {
	d := detector.Detect([]float64{100, 110, 120}, 5, detector.Params{Test: model.TestStaticLower, StaticLow: 10})
	require.NotNil(t, d.Side)
	require.Equal(t, model.SideLeft, *d.Side)
}

func TestDetect_DeltaIQR_LargeJump_SideRight(t *testing.T) {
	sample := []float64{100, 101, 99, 100, 102}
	d := detector.Detect(sample, 500, detector.Params{Test: model.TestDeltaIQR, Multiplier: 1.5})
	require.NotNil(t, d.Side)
	require.Equal(t, model.SideRight, *d.Side)
}

func TestDetect_LogNormal_NonPositiveSample_Skipped(t *testing.T) {
	d := detector.Detect([]float64{-1, 2, 3}, 4, detector.Params{Test: model.TestLogNormal, UpperP: p(0.9)})
	require.Equal(t, detector.Detection{}, d)
}

func TestDetect_UnknownTest_Skipped(t *testing.T) {
	d := detector.Detect([]float64{1, 2, 3}, 4, detector.Params{Test: model.Test("bogus")})
	require.Equal(t, detector.Detection{}, d)
}
