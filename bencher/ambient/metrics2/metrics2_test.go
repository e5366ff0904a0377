package metrics2_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.bencher.dev/core/bencher/ambient/metrics2"
)

func TestGetCounter_IncAndGet(t *testing.T) {
	c := metrics2.NewForTesting()
	counter := c.GetCounter("jobs.claimed", map[string]string{"tier": "enterprise"})
	require.Equal(t, int64(0), counter.Get())
	counter.Inc(3)
	counter.Inc(2)
	require.Equal(t, int64(5), counter.Get())
	counter.Reset()
	require.Equal(t, int64(0), counter.Get())
}

func TestGetCounter_DistinctTags_AreIndependent(t *testing.T) {
	c := metrics2.NewForTesting()
	a := c.GetCounter("alerts.fired", map[string]string{"side": "left"})
	b := c.GetCounter("alerts.fired", map[string]string{"side": "right"})
	a.Inc(1)
	require.Equal(t, int64(1), a.Get())
	require.Equal(t, int64(0), b.Get())
}

func TestGetFloat64Metric_UpdateAndGet(t *testing.T) {
	c := metrics2.NewForTesting()
	g := c.GetFloat64Metric("boundary.upper_limit", map[string]string{"measure": "latency_ns"})
	g.Update(119.95)
	require.InDelta(t, 119.95, g.Get(), 0.001)
}
