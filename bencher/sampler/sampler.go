// Package sampler implements C5: assembling an ordered historical
// sample of prior metric values for a (branch, head, testbed, measure,
// benchmark) tuple, honoring window and sample-size constraints, in the
// contractual sort order that makes IQR/delta tests reproducible.
package sampler

import (
	"context"
	"database/sql"
	"time"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
)

// Queryer is the subset of *sql.DB / *sql.Tx Sample needs, so report
// writes (C7) can sample inside the same transaction that is about to
// write the Boundary/Alert rows derived from it.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Constraints bounds a sample per §4.5's Model fields.
type Constraints struct {
	MinSampleSize *int64
	MaxSampleSize *int64
	WindowSeconds *int64
}

// Result is the outcome of Sample: either Insufficient is true (fewer
// than MinSampleSize values were found, so the caller must not run
// detection), or Values holds the ordered sample.
type Result struct {
	Values        []float64
	Insufficient bool
}

// Sample assembles the ordered sample for one (branch, testbed,
// measure, benchmark) lineage, walking the branch's current head's
// version ancestry in descending number, oldest-first in the returned
// slice, per §4.5's selection rules 1-6.
//
// Sort order is version.number ASC, report.start_time ASC, iteration
// ASC, metric.id ASC -- this ordering is contractual.
func Sample(ctx context.Context, db Queryer, branchID, testbedID, measureID, benchmarkID int64, c Constraints) (Result, error) {
	headID, err := currentHeadID(ctx, db, branchID)
	if err != nil {
		return Result{}, err
	}
	if headID == 0 {
		return Result{Insufficient: true}, nil
	}

	inner := `
		SELECT m.value AS value, v.number AS v_number, r.start_time AS r_start, rb.iteration AS rb_iter, m.id AS m_id
		FROM metrics m
		JOIN report_benchmarks rb ON rb.id = m.report_benchmark_id
		JOIN reports r ON r.id = rb.report_id
		JOIN versions v ON v.id = r.version_id
		JOIN head_versions hv ON hv.version_id = v.id AND hv.head_id = ?
		WHERE r.testbed_id = ?
		  AND m.measure_id = ?
		  AND rb.benchmark_id = ?
		  AND r.completed = 1
	`
	args := []interface{}{headID, testbedID, measureID, benchmarkID}

	if c.WindowSeconds != nil {
		cutoff := now.Now(ctx).Add(-time.Duration(*c.WindowSeconds) * time.Second)
		inner += " AND r.start_time >= ?"
		args = append(args, cutoff)
	}

	// §4.5 rules 1+4: walk the ancestry newest-first and stop at
	// max_sample_size, keeping the *most recent* values -- so the inner
	// query orders descending and limits, then the outer query restores
	// the contractual ascending return order.
	inner += " ORDER BY v.number DESC, r.start_time DESC, rb.iteration DESC, m.id DESC"

	if c.MaxSampleSize != nil {
		inner += " LIMIT ?"
		args = append(args, *c.MaxSampleSize)
	}

	query := "SELECT value FROM (" + inner + ") sub ORDER BY v_number ASC, r_start ASC, rb_iter ASC, m_id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, skerr.Wrap(err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return Result{}, skerr.Wrap(err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return Result{}, skerr.Wrap(err)
	}

	if c.MinSampleSize != nil && int64(len(values)) < *c.MinSampleSize {
		return Result{Insufficient: true}, nil
	}
	return Result{Values: values}, nil
}

func currentHeadID(ctx context.Context, db Queryer, branchID int64) (int64, error) {
	var headID int64
	err := db.QueryRowContext(ctx,
		`SELECT id FROM heads WHERE branch_id = ? AND replaced IS NULL ORDER BY id DESC LIMIT 1`,
		branchID,
	).Scan(&headID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return headID, nil
}
