package report_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/adapter"
	"go.bencher.dev/core/bencher/identity"
	"go.bencher.dev/core/bencher/report"
	"go.bencher.dev/core/bencher/results"
	"go.bencher.dev/core/bencher/store"
)

func newTestStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	res, err := s.DB.ExecContext(ctx, `INSERT INTO projects (uuid, organization_id, name, slug, visibility, created, modified) VALUES ('proj-uuid', 1, 'p1', 'p1', 'public', datetime('now'), datetime('now'))`)
	require.NoError(t, err)
	projectID, err := res.LastInsertId()
	require.NoError(t, err)
	return s, projectID
}

func benchLine(ns float64) string {
	return fmt.Sprintf("BenchmarkA-8    1000000    %.1f ns/op\n", ns)
}

func goBenchReport(t *testing.T, s *store.Store, projectID int64, resolver *identity.Resolver, values []float64) *report.Written {
	t.Helper()
	var raw string
	for _, v := range values {
		raw += benchLine(v)
	}
	written, err := report.Write(context.Background(), s, resolver, report.Input{
		ProjectID:  projectID,
		BranchRef:  "main",
		TestbedRef: "ci",
		StartTime:  time.Now(),
		EndTime:    time.Now(),
		Adapter:    adapter.TagGoBench,
		RawResults: []string{raw},
		Settings:   results.Settings{},
	})
	require.NoError(t, err)
	return written
}

func TestWrite_NoThreshold_NoAlertsNoBoundaries(t *testing.T) {
	s, projectID := newTestStore(t)
	resolver := identity.New(s.DB)

	written := goBenchReport(t, s, projectID, resolver, []float64{100, 110})
	require.Empty(t, written.Alerts)

	var metricCount, boundaryCount int
	require.NoError(t, s.DB.QueryRow(`SELECT count(*) FROM metrics`).Scan(&metricCount))
	require.NoError(t, s.DB.QueryRow(`SELECT count(*) FROM boundaries`).Scan(&boundaryCount))
	require.Equal(t, 1, metricCount) // the raw text is one report with one benchmark
	require.Equal(t, 0, boundaryCount)
}

func setThreshold(t *testing.T, s *store.Store, projectID int64, test string, lower, upper *float64, minN int64) {
	t.Helper()
	ctx := context.Background()
	resolver := identity.New(s.DB)
	branchID, err := resolver.Resolve(ctx, projectID, identity.KindBranch, "main", true)
	require.NoError(t, err)
	testbedID, err := resolver.Resolve(ctx, projectID, identity.KindTestbed, "ci", true)
	require.NoError(t, err)
	measureID, err := resolver.Resolve(ctx, projectID, identity.KindMeasure, "latency", true)
	require.NoError(t, err)

	res, err := s.DB.ExecContext(ctx, `INSERT INTO thresholds (uuid, project_id, branch_id, testbed_id, measure_id, created, modified) VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		"threshold-uuid", projectID, branchID, testbedID, measureID)
	require.NoError(t, err)
	thresholdID, err := res.LastInsertId()
	require.NoError(t, err)

	res, err = s.DB.ExecContext(ctx, `INSERT INTO models (threshold_id, test, min_sample_size, lower_boundary, upper_boundary, created) VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		thresholdID, test, minN, lower, upper)
	require.NoError(t, err)
	modelID, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = s.DB.ExecContext(ctx, `UPDATE thresholds SET current_model_id = ? WHERE id = ?`, modelID, thresholdID)
	require.NoError(t, err)
}

func TestWrite_ZScoreThreshold_SixthReportAlerts(t *testing.T) {
	s, projectID := newTestStore(t)
	upper := 0.95
	setThreshold(t, s, projectID, "ZScore", nil, &upper, 5)

	resolver := identity.New(s.DB)
	// A constant baseline has zero variance, which disables ZScore
	// detection; a spread around 100 gives the test finite limits
	// (mean 100, sd about 1.58, upper limit about 102.6).
	for _, v := range []float64{98, 99, 100, 101, 102} {
		goBenchReport(t, s, projectID, resolver, []float64{v})
	}
	written := goBenchReport(t, s, projectID, resolver, []float64{150})

	require.NotEmpty(t, written.Alerts)
	require.Equal(t, "Right", string(written.Alerts[0].Side))
}

func TestWrite_DuplicateReportUUID_Conflict(t *testing.T) {
	s, projectID := newTestStore(t)
	resolver := identity.New(s.DB)

	reportUUID := uuid.New()
	_, err := report.Write(context.Background(), s, resolver, report.Input{
		UUID: reportUUID, ProjectID: projectID, BranchRef: "main", TestbedRef: "ci",
		StartTime: time.Now(), EndTime: time.Now(), Adapter: adapter.TagGoBench,
		RawResults: []string{benchLine(100)},
	})
	require.NoError(t, err)

	_, err = report.Write(context.Background(), s, resolver, report.Input{
		UUID: reportUUID, ProjectID: projectID, BranchRef: "main", TestbedRef: "ci",
		StartTime: time.Now(), EndTime: time.Now(), Adapter: adapter.TagGoBench,
		RawResults: []string{benchLine(100)},
	})
	require.Error(t, err)
}

func TestWrite_IgnoredBenchmark_BoundaryButNoAlert(t *testing.T) {
	s, projectID := newTestStore(t)
	upper := 0.95
	setThreshold(t, s, projectID, "ZScore", nil, &upper, 5)

	resolver := identity.New(s.DB)
	for i := 0; i < 5; i++ {
		goBenchReport(t, s, projectID, resolver, []float64{100})
	}

	raw := fmt.Sprintf("BenchmarkA_bencher_ignore-8    1000000    %.1f ns/op\n", 150.0)
	written, err := report.Write(context.Background(), s, resolver, report.Input{
		ProjectID: projectID, BranchRef: "main", TestbedRef: "ci",
		StartTime: time.Now(), EndTime: time.Now(), Adapter: adapter.TagGoBench,
		RawResults: []string{raw},
	})
	require.NoError(t, err)
	require.Empty(t, written.Alerts)

	var boundaryCount int
	require.NoError(t, s.DB.QueryRow(`SELECT count(*) FROM boundaries`).Scan(&boundaryCount))
	require.Equal(t, 1, boundaryCount) // the five baseline reports are each below min_sample_size; only this one has a full history behind it
}

func TestWrite_EmptyParse_CommitsWithNoMetrics(t *testing.T) {
	s, projectID := newTestStore(t)
	resolver := identity.New(s.DB)

	_, err := report.Write(context.Background(), s, resolver, report.Input{
		ProjectID: projectID, BranchRef: "main", TestbedRef: "ci",
		StartTime: time.Now(), EndTime: time.Now(), Adapter: adapter.TagGoBench,
		RawResults: []string{"not a recognizable benchmark line\n"},
	})
	require.NoError(t, err)

	var reportCount, metricCount int
	require.NoError(t, s.DB.QueryRow(`SELECT count(*) FROM reports`).Scan(&reportCount))
	require.NoError(t, s.DB.QueryRow(`SELECT count(*) FROM metrics`).Scan(&metricCount))
	require.Equal(t, 1, reportCount)
	require.Equal(t, 0, metricCount)
}
