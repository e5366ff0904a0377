package sampler_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/sampler"
	"go.bencher.dev/core/bencher/store"
)

type fixture struct {
	db          *sql.DB
	branchID    int64
	headID      int64
	testbedID   int64
	measureID   int64
	benchmarkID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	db := s.DB

	exec := func(q string, args ...interface{}) int64 {
		res, err := db.ExecContext(ctx, q, args...)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		return id
	}

	projectID := exec(`INSERT INTO projects (uuid, organization_id, name, slug, visibility, created, modified) VALUES ('p-uuid', 1, 'p', 'p', 'public', datetime('now'), datetime('now'))`)
	branchID := exec(`INSERT INTO branches (uuid, project_id, name, slug) VALUES ('b-uuid', ?, 'main', 'main')`, projectID)
	headID := exec(`INSERT INTO heads (branch_id, created) VALUES (?, datetime('now'))`, branchID)
	testbedID := exec(`INSERT INTO testbeds (uuid, project_id, name, slug) VALUES ('t-uuid', ?, 'ci', 'ci')`, projectID)
	measureID := exec(`INSERT INTO measures (uuid, project_id, name, slug, units) VALUES ('m-uuid', ?, 'latency', 'latency', 'ns')`, projectID)
	benchmarkID := exec(`INSERT INTO benchmarks (uuid, project_id, name, slug) VALUES ('bm-uuid', ?, 'bench::a', 'bench-a')`, projectID)

	return &fixture{db: db, branchID: branchID, headID: headID, testbedID: testbedID, measureID: measureID, benchmarkID: benchmarkID}
}

// addReport inserts a completed report at versionNumber with one metric
// value for the fixture's testbed/measure/benchmark, returning the
// metric id.
func (f *fixture) addReport(t *testing.T, ctx context.Context, versionNumber int64, startTime time.Time, value float64) int64 {
	t.Helper()
	exec := func(q string, args ...interface{}) int64 {
		res, err := f.db.ExecContext(ctx, q, args...)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		return id
	}

	var versionID int64
	err := f.db.QueryRowContext(ctx, `SELECT id FROM versions WHERE project_id = (SELECT project_id FROM branches WHERE id = ?) AND number = ?`, f.branchID, versionNumber).Scan(&versionID)
	if err == sql.ErrNoRows {
		versionID = exec(`INSERT INTO versions (project_id, number) VALUES ((SELECT project_id FROM branches WHERE id = ?), ?)`, f.branchID, versionNumber)
		_, err := f.db.ExecContext(ctx, `INSERT INTO head_versions (head_id, version_id, rank) VALUES (?, ?, ?)`, f.headID, versionID, versionNumber)
		require.NoError(t, err)
	} else {
		require.NoError(t, err)
	}

	reportID := exec(`INSERT INTO reports (uuid, project_id, branch_id, head_id, testbed_id, version_id, adapter, start_time, end_time, created, completed)
		VALUES (?, (SELECT project_id FROM branches WHERE id = ?), ?, ?, ?, ?, 'magic', ?, ?, datetime('now'), 1)`,
		randUUID(), f.branchID, f.branchID, f.headID, f.testbedID, versionID, startTime, startTime)
	rbID := exec(`INSERT INTO report_benchmarks (report_id, iteration, benchmark_id) VALUES (?, 0, ?)`, reportID, f.benchmarkID)
	return exec(`INSERT INTO metrics (uuid, report_benchmark_id, measure_id, value) VALUES (?, ?, ?, ?)`, randUUID(), rbID, f.measureID, value)
}

var uuidCounter int

func randUUID() string {
	uuidCounter++
	return fmt.Sprintf("generated-uuid-%d", uuidCounter)
}

func TestSample_Deterministic_SameInputsSameOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Now().Add(-time.Hour)
	f.addReport(t, ctx, 1, base, 100)
	f.addReport(t, ctx, 2, base.Add(time.Minute), 110)
	f.addReport(t, ctx, 3, base.Add(2*time.Minute), 120)

	r1, err := sampler.Sample(ctx, f.db, f.branchID, f.testbedID, f.measureID, f.benchmarkID, sampler.Constraints{})
	require.NoError(t, err)
	r2, err := sampler.Sample(ctx, f.db, f.branchID, f.testbedID, f.measureID, f.benchmarkID, sampler.Constraints{})
	require.NoError(t, err)
	if diff := cmp.Diff(r1.Values, r2.Values); diff != "" {
		t.Fatalf("two samples over identical inputs diverged (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{100, 110, 120}, r1.Values); diff != "" {
		t.Fatalf("sample order mismatch (-want +got):\n%s", diff)
	}
}

func TestSample_MaxSampleSize_Bounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Now().Add(-time.Hour)
	for i := int64(1); i <= 10; i++ {
		f.addReport(t, ctx, i, base.Add(time.Duration(i)*time.Minute), float64(i))
	}
	max := int64(3)
	r, err := sampler.Sample(ctx, f.db, f.branchID, f.testbedID, f.measureID, f.benchmarkID, sampler.Constraints{MaxSampleSize: &max})
	require.NoError(t, err)
	require.LessOrEqual(t, len(r.Values), 3)
}

func TestSample_MinSampleSize_InsufficientReturnsNoPartial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addReport(t, ctx, 1, time.Now().Add(-time.Hour), 100)

	min := int64(5)
	r, err := sampler.Sample(ctx, f.db, f.branchID, f.testbedID, f.measureID, f.benchmarkID, sampler.Constraints{MinSampleSize: &min})
	require.NoError(t, err)
	require.True(t, r.Insufficient)
	require.Empty(t, r.Values)
}

func TestSample_NoHead_Insufficient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.db.ExecContext(ctx, `UPDATE heads SET replaced = datetime('now') WHERE id = ?`, f.headID)
	require.NoError(t, err)

	r, err := sampler.Sample(ctx, f.db, f.branchID, f.testbedID, f.measureID, f.benchmarkID, sampler.Constraints{})
	require.NoError(t, err)
	require.True(t, r.Insufficient)
}
