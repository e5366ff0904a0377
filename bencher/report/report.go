// Package report implements C7: transactionally persisting a submitted
// report through iteration, benchmark, metric, boundary, and alert
// rows, preserving "either all land or none do" even under partial
// failure.
package report

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"go.bencher.dev/core/bencher/adapter"
	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/detector"
	"go.bencher.dev/core/bencher/identity"
	"go.bencher.dev/core/bencher/model"
	"go.bencher.dev/core/bencher/results"
	"go.bencher.dev/core/bencher/sampler"
	"go.bencher.dev/core/bencher/store"
	"go.bencher.dev/core/bencher/units"
)

// Input is a submitted report (§6's POST body, already parsed).
type Input struct {
	UUID      uuid.UUID // zero value means "generate one"
	ProjectID int64
	BranchRef string
	Hash      *string
	TestbedRef string
	StartTime time.Time
	EndTime   time.Time
	Adapter   adapter.Tag
	RawResults []string
	Settings  results.Settings
}

// Written is write_report's return value: the persisted report plus
// every alert it produced.
type Written struct {
	Report model.Report
	Alerts []model.Alert
}

// Write runs C7's full contract inside a single transaction.
func Write(ctx context.Context, s *store.Store, resolver *identity.Resolver, in Input) (*Written, error) {
	iterations, err := parseAll(in.Adapter, in.RawResults)
	if err != nil {
		return nil, apierror.Wrap(apierror.BadRequest, err, "parsing adapter output")
	}
	normalized, err := results.Normalize(iterations, in.Settings)
	if err != nil {
		return nil, apierror.Wrap(apierror.BadRequest, err, "normalizing results")
	}

	var written Written
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		txResolver := resolver.Scoped(tx)

		reportUUID := in.UUID
		if reportUUID == uuid.Nil {
			reportUUID = uuid.New()
		}

		branchID, err := txResolver.Resolve(ctx, in.ProjectID, identity.KindBranch, in.BranchRef, true)
		if err != nil {
			return err
		}
		testbedID, err := txResolver.Resolve(ctx, in.ProjectID, identity.KindTestbed, in.TestbedRef, true)
		if err != nil {
			return err
		}
		headID, versionID, err := resolveHeadVersion(ctx, tx, in.ProjectID, branchID, in.Hash)
		if err != nil {
			return err
		}

		reportID, err := insertReport(ctx, tx, reportUUID, in, branchID, headID, testbedID, versionID)
		if err != nil {
			return err
		}

		var alerts []model.Alert
		for iterationIdx, iteration := range normalized {
			for _, bench := range iteration {
				benchmarkID, err := resolveBenchmark(ctx, txResolver, in.ProjectID, bench.Name)
				if err != nil {
					return err
				}
				reportBenchmarkID, err := insertReportBenchmark(ctx, tx, reportID, int64(iterationIdx), benchmarkID)
				if err != nil {
					return err
				}
				for measureSlug, value := range bench.Metrics {
					if err := value.Validate(); err != nil {
						return err
					}
					measureID, err := txResolver.Resolve(ctx, in.ProjectID, identity.KindMeasure, measureSlug, true)
					if err != nil {
						return err
					}
					metricID, err := insertMetric(ctx, tx, reportBenchmarkID, measureID, value)
					if err != nil {
						return err
					}

					alert, err := applyThreshold(ctx, tx, in.ProjectID, branchID, testbedID, measureID, benchmarkID, metricID, value.Value, bench.Ignored, int64(iterationIdx))
					if err != nil {
						return err
					}
					if alert != nil {
						alerts = append(alerts, *alert)
					}
				}
			}
		}

		if err := markCompleted(ctx, tx, reportID); err != nil {
			return err
		}

		written = Written{
			Report: model.Report{
				ID: reportID, UUID: reportUUID, ProjectID: in.ProjectID, BranchID: branchID,
				HeadID: headID, TestbedID: testbedID, VersionID: versionID, Adapter: string(in.Adapter),
				StartTime: in.StartTime, EndTime: in.EndTime, Created: now.Now(ctx), Completed: true,
			},
			Alerts: alerts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &written, nil
}

func parseAll(tag adapter.Tag, rawResults []string) ([]adapter.Iteration, error) {
	var all []adapter.Iteration
	for _, raw := range rawResults {
		iterations, err := adapter.Parse(tag, raw)
		if err != nil {
			return nil, err
		}
		all = append(all, iterations...)
	}
	return all, nil
}

func resolveBenchmark(ctx context.Context, r *identity.Resolver, projectID int64, name string) (int64, error) {
	return r.Resolve(ctx, projectID, identity.KindBenchmark, name, true)
}

// resolveHeadVersion resolves (or creates) the branch's current head and
// the version this report belongs to. A version identified by hash is
// reused if it already exists within the project; otherwise a new
// version is created with the next sequential number (§3's "version
// numbers advance monotonically within a head").
func resolveHeadVersion(ctx context.Context, tx *sql.Tx, projectID, branchID int64, hash *string) (headID, versionID int64, err error) {
	err = tx.QueryRowContext(ctx, `SELECT id FROM heads WHERE branch_id = ? AND replaced IS NULL ORDER BY id DESC LIMIT 1`, branchID).Scan(&headID)
	if err == sql.ErrNoRows {
		res, insertErr := tx.ExecContext(ctx, `INSERT INTO heads (branch_id, created) VALUES (?, ?)`, branchID, now.Now(ctx))
		if insertErr != nil {
			return 0, 0, skerr.Wrap(insertErr)
		}
		headID, err = res.LastInsertId()
		if err != nil {
			return 0, 0, skerr.Wrap(err)
		}
	} else if err != nil {
		return 0, 0, skerr.Wrap(err)
	}

	if hash != nil {
		err = tx.QueryRowContext(ctx, `SELECT id FROM versions WHERE project_id = ? AND hash = ?`, projectID, *hash).Scan(&versionID)
		if err == nil {
			if rankErr := ensureHeadVersion(ctx, tx, headID, versionID); rankErr != nil {
				return 0, 0, rankErr
			}
			return headID, versionID, nil
		}
		if err != sql.ErrNoRows {
			return 0, 0, skerr.Wrap(err)
		}
	}

	var lastNumber int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM versions WHERE project_id = ?`, projectID).Scan(&lastNumber)
	if err != nil {
		return 0, 0, skerr.Wrap(err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO versions (project_id, number, hash) VALUES (?, ?, ?)`, projectID, lastNumber+1, hash)
	if err != nil {
		return 0, 0, skerr.Wrap(err)
	}
	versionID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, skerr.Wrap(err)
	}
	if err := ensureHeadVersion(ctx, tx, headID, versionID); err != nil {
		return 0, 0, err
	}
	return headID, versionID, nil
}

func ensureHeadVersion(ctx context.Context, tx *sql.Tx, headID, versionID int64) error {
	var rank int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(rank), -1) + 1 FROM head_versions WHERE head_id = ?`, headID).Scan(&rank)
	if err != nil {
		return skerr.Wrap(err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO head_versions (head_id, version_id, rank) VALUES (?, ?, ?)`, headID, versionID, rank)
	return skerr.Wrap(err)
}

func insertReport(ctx context.Context, tx *sql.Tx, reportUUID uuid.UUID, in Input, branchID, headID, testbedID, versionID int64) (int64, error) {
	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM reports WHERE uuid = ?`, reportUUID.String()).Scan(&existing); err != nil {
		return 0, skerr.Wrap(err)
	}
	if existing > 0 {
		return 0, apierror.New(apierror.Conflict, "report %s already submitted", reportUUID)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reports (uuid, project_id, branch_id, head_id, testbed_id, version_id, adapter, start_time, end_time, created, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		reportUUID.String(), in.ProjectID, branchID, headID, testbedID, versionID, string(in.Adapter), in.StartTime, in.EndTime, now.Now(ctx))
	if err != nil {
		return 0, skerr.Wrapf(err, "inserting report")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return id, nil
}

func markCompleted(ctx context.Context, tx *sql.Tx, reportID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE reports SET completed = 1 WHERE id = ?`, reportID)
	return skerr.Wrap(err)
}

func insertReportBenchmark(ctx context.Context, tx *sql.Tx, reportID, iteration, benchmarkID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO report_benchmarks (report_id, iteration, benchmark_id) VALUES (?, ?, ?)`, reportID, iteration, benchmarkID)
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return res.LastInsertId()
}

func insertMetric(ctx context.Context, tx *sql.Tx, reportBenchmarkID, measureID int64, value units.Value) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO metrics (uuid, report_benchmark_id, measure_id, value, lower_value, upper_value) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), reportBenchmarkID, measureID, value.Value, value.LowerValue, value.UpperValue)
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return res.LastInsertId()
}

// applyThreshold locates the active threshold for (project, branch,
// testbed, measure), and if one exists, runs C5 then C6, writing a
// Boundary and, if the metric crossed a limit and is not ignored, an
// Alert.
func applyThreshold(ctx context.Context, tx *sql.Tx, projectID, branchID, testbedID, measureID, benchmarkID, metricID int64, value float64, ignored bool, iteration int64) (*model.Alert, error) {
	var thresholdID, currentModelID sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT id, current_model_id FROM thresholds WHERE project_id = ? AND branch_id = ? AND testbed_id = ? AND measure_id = ?`,
		projectID, branchID, testbedID, measureID).Scan(&thresholdID, &currentModelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if !currentModelID.Valid {
		return nil, nil
	}

	m, err := loadModel(ctx, tx, currentModelID.Int64)
	if err != nil {
		return nil, err
	}

	sampleResult, err := sampler.Sample(ctx, tx, branchID, testbedID, measureID, benchmarkID, sampler.Constraints{
		MinSampleSize: m.MinSampleSize, MaxSampleSize: m.MaxSampleSize, WindowSeconds: m.WindowSeconds,
	})
	if err != nil {
		return nil, err
	}
	if sampleResult.Insufficient {
		return nil, nil
	}

	det := detector.Detect(sampleResult.Values, value, toParams(m))

	boundaryID, err := insertBoundary(ctx, tx, metricID, thresholdID.Int64, m.ID, det)
	if err != nil {
		return nil, err
	}
	if det.Side == nil || ignored {
		return nil, nil
	}

	limit := det.UpperLimit
	if *det.Side == model.SideLeft {
		limit = det.LowerLimit
	}
	alertUUID := uuid.New()
	_, err = tx.ExecContext(ctx, `INSERT INTO alerts (uuid, boundary_id, iteration, side, limit_value, status, modified) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alertUUID.String(), boundaryID, iteration, string(*det.Side), *limit, string(model.AlertActive), now.Now(ctx))
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &model.Alert{UUID: alertUUID, BoundaryID: boundaryID, Iteration: iteration, Side: *det.Side, Limit: *limit, Status: model.AlertActive}, nil
}

func loadModel(ctx context.Context, tx *sql.Tx, modelID int64) (model.Model, error) {
	var m model.Model
	m.ID = modelID
	var test string
	var minN, maxN, windowS sql.NullInt64
	var lowerB, upperB sql.NullFloat64
	err := tx.QueryRowContext(ctx, `SELECT test, min_sample_size, max_sample_size, window_seconds, lower_boundary, upper_boundary FROM models WHERE id = ?`, modelID).
		Scan(&test, &minN, &maxN, &windowS, &lowerB, &upperB)
	if err != nil {
		return model.Model{}, skerr.Wrap(err)
	}
	m.Test = model.Test(test)
	if minN.Valid {
		v := minN.Int64
		m.MinSampleSize = &v
	}
	if maxN.Valid {
		v := maxN.Int64
		m.MaxSampleSize = &v
	}
	if windowS.Valid {
		v := windowS.Int64
		m.WindowSeconds = &v
	}
	if lowerB.Valid {
		v := lowerB.Float64
		m.LowerBoundary = &v
	}
	if upperB.Valid {
		v := upperB.Float64
		m.UpperBoundary = &v
	}
	return m, nil
}

func toParams(m model.Model) detector.Params {
	p := detector.Params{Test: m.Test}
	switch m.Test {
	case model.TestStaticLower:
		if m.LowerBoundary != nil {
			p.StaticLow = *m.LowerBoundary
		}
	case model.TestStaticUpper:
		if m.UpperBoundary != nil {
			p.StaticHigh = *m.UpperBoundary
		}
	case model.TestIQR, model.TestDeltaIQR:
		// IQR/DeltaIQR carry one multiplier; LowerBoundary/UpperBoundary are
		// set to that same value to indicate which side(s) to compute.
		if m.LowerBoundary != nil {
			p.Multiplier = *m.LowerBoundary
		} else if m.UpperBoundary != nil {
			p.Multiplier = *m.UpperBoundary
		}
		p.LowerOn = m.LowerBoundary != nil
		p.UpperOn = m.UpperBoundary != nil
	default:
		p.LowerP = m.LowerBoundary
		p.UpperP = m.UpperBoundary
	}
	return p
}

func insertBoundary(ctx context.Context, tx *sql.Tx, metricID, thresholdID, modelID int64, det detector.Detection) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO boundaries (metric_id, threshold_id, model_id, baseline, lower_limit, upper_limit) VALUES (?, ?, ?, ?, ?, ?)`,
		metricID, thresholdID, modelID, det.Baseline, det.LowerLimit, det.UpperLimit)
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return res.LastInsertId()
}
