package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/ratelimit"
	"go.bencher.dev/core/bencher/store"
)

func TestLimiter_Allow_WithinBurst_Allowed(t *testing.T) {
	config := ratelimit.Config{
		ratelimit.CategoryAttempt: {{Window: ratelimit.WindowMinute, Max: 3}},
	}
	l := ratelimit.NewLimiter(config)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(context.Background(), ratelimit.CategoryAttempt, "1.2.3.4"))
	}
}

func TestLimiter_Allow_ExceedsBurst_RateLimited(t *testing.T) {
	config := ratelimit.Config{
		ratelimit.CategoryAttempt: {{Window: ratelimit.WindowMinute, Max: 2}},
	}
	l := ratelimit.NewLimiter(config)
	require.NoError(t, l.Allow(context.Background(), ratelimit.CategoryAttempt, "1.2.3.4"))
	require.NoError(t, l.Allow(context.Background(), ratelimit.CategoryAttempt, "1.2.3.4"))

	err := l.Allow(context.Background(), ratelimit.CategoryAttempt, "1.2.3.4")
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.RateLimited, apiErr.Kind)
}

func TestLimiter_Allow_DistinctScopes_Independent(t *testing.T) {
	config := ratelimit.Config{
		ratelimit.CategoryAttempt: {{Window: ratelimit.WindowMinute, Max: 1}},
	}
	l := ratelimit.NewLimiter(config)
	require.NoError(t, l.Allow(context.Background(), ratelimit.CategoryAttempt, "1.2.3.4"))
	require.Error(t, l.Allow(context.Background(), ratelimit.CategoryAttempt, "1.2.3.4"))
	// A different scope has its own untouched bucket.
	require.NoError(t, l.Allow(context.Background(), ratelimit.CategoryAttempt, "5.6.7.8"))
}

func TestLimiter_Allow_UnconfiguredCategory_AlwaysAllowed(t *testing.T) {
	l := ratelimit.NewLimiter(ratelimit.Config{})
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(context.Background(), ratelimit.CategoryRun, "anything"))
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDailyCounter_Increment_BelowMax_Succeeds(t *testing.T) {
	s := newTestStore(t)
	d := ratelimit.NewDailyCounter(s)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Increment(context.Background(), "organization", "parent-1", 5))
	}
	var count int
	require.NoError(t, s.DB.QueryRow(`SELECT count FROM rate_limit_daily_counts WHERE resource = 'organization' AND parent_uuid = 'parent-1'`).Scan(&count))
	require.Equal(t, 3, count)
}

func TestDailyCounter_Increment_AtMax_RateLimited(t *testing.T) {
	s := newTestStore(t)
	d := ratelimit.NewDailyCounter(s)
	require.NoError(t, d.Increment(context.Background(), "organization", "parent-1", 2))
	require.NoError(t, d.Increment(context.Background(), "organization", "parent-1", 2))

	err := d.Increment(context.Background(), "organization", "parent-1", 2)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.RateLimited, apiErr.Kind)
}

func TestDailyCounter_Increment_SeparateParents_Independent(t *testing.T) {
	s := newTestStore(t)
	d := ratelimit.NewDailyCounter(s)
	require.NoError(t, d.Increment(context.Background(), "organization", "parent-1", 1))
	require.NoError(t, d.Increment(context.Background(), "organization", "parent-2", 1))
}
