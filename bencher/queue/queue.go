// Package queue implements C8: persisting pending jobs and letting
// runners long-poll and atomically claim the highest-priority eligible
// one, subject to tier-based concurrency caps.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/model"
	"go.bencher.dev/core/bencher/store"
)

// pollInterval is the sleep between unsuccessful claim attempts.
var pollInterval = time.Second

// defaultPollTimeout is used when a caller passes a non-positive timeout.
const defaultPollTimeout = 30 * time.Second

// Enqueue inserts a new Pending job.
func Enqueue(ctx context.Context, s *store.Store, reportID *int64, organizationID int64, sourceIP string, specID int64, configJSON string, timeoutSecs int64, priority int) (model.Job, error) {
	var job model.Job
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		jobUUID := uuid.New()
		ts := now.Now(ctx)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (uuid, report_id, organization_id, source_ip, status, spec_id, config_json, timeout_secs, priority, created, modified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobUUID.String(), reportID, organizationID, sourceIP, string(model.JobPending), specID, configJSON, timeoutSecs, priority, ts, ts)
		if err != nil {
			return skerr.Wrapf(err, "enqueuing job")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return skerr.Wrap(err)
		}
		job = model.Job{
			ID: id, UUID: jobUUID, ReportID: reportID, OrganizationID: organizationID, SourceIP: sourceIP,
			Status: model.JobPending, SpecID: specID, ConfigJSON: configJSON, TimeoutSecs: timeoutSecs,
			Priority: priority, Created: ts, Modified: ts,
		}
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	return job, nil
}

// Claim implements the §4.8 contract: it long-polls for up to pollTimeout
// (defaultPollTimeout if non-positive), attempting a claim roughly once a
// second, and returns the claimed job or (nil, nil) if none became
// eligible before the deadline. It returns early if ctx is canceled,
// honoring connection drop on the runner's long-poll request.
func Claim(ctx context.Context, s *store.Store, runnerID int64, pollTimeout time.Duration) (*model.Job, error) {
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	deadline := now.Now(ctx).Add(pollTimeout)

	for {
		job, err := attemptClaim(ctx, s, runnerID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		if !now.Now(ctx).Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(pollInterval):
		}
	}
}

// attemptClaim makes exactly one claim attempt, inside the store's single
// writer lock, and returns nil (no error) if no eligible job exists or
// another runner won a concurrent TOCTOU race.
func attemptClaim(ctx context.Context, s *store.Store, runnerID int64) (*model.Job, error) {
	var claimed *model.Job
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var archived, locked bool
		err := tx.QueryRowContext(ctx, `SELECT archived, locked FROM runners WHERE id = ?`, runnerID).Scan(&archived, &locked)
		if err == sql.ErrNoRows {
			return apierror.New(apierror.NotFound, "runner not found")
		}
		if err != nil {
			return skerr.Wrap(err)
		}
		if archived || locked {
			return apierror.New(apierror.Forbidden, "runner is archived or locked")
		}

		candidateID, err := selectEligibleCandidate(ctx, tx, runnerID)
		if err != nil {
			return err
		}
		if candidateID == 0 {
			return nil
		}

		ts := now.Now(ctx)
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, runner_id = ?, claimed = ?, last_heartbeat = ?, modified = ?
			WHERE id = ? AND status = ?`,
			string(model.JobClaimed), runnerID, ts, ts, ts, candidateID, string(model.JobPending))
		if err != nil {
			return skerr.Wrap(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return skerr.Wrap(err)
		}
		if n == 0 {
			// Another runner's claim landed first between our SELECT and
			// this UPDATE; treat as "nothing eligible this attempt".
			return nil
		}

		job, err := loadJob(ctx, tx, candidateID)
		if err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// selectEligibleCandidate picks the single best Pending job this runner
// may claim, per §4.8's eligibility predicate and ordering. It returns 0
// if none qualify.
func selectEligibleCandidate(ctx context.Context, tx *sql.Tx, runnerID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT j.id
		FROM jobs j
		JOIN runner_specs rs ON rs.spec_id = j.spec_id AND rs.runner_id = ?
		WHERE j.status = ?
		  AND (
		    j.priority >= 200
		    OR (j.priority >= 100 AND NOT EXISTS (
		        SELECT 1 FROM jobs j2
		        WHERE j2.organization_id = j.organization_id AND j2.status IN (?, ?)
		    ))
		    OR (j.priority < 100 AND NOT EXISTS (
		        SELECT 1 FROM jobs j2
		        WHERE j2.source_ip = j.source_ip AND j2.status IN (?, ?)
		    ))
		  )
		ORDER BY j.priority DESC, j.created ASC, j.id ASC
		LIMIT 1`,
		runnerID, string(model.JobPending),
		string(model.JobClaimed), string(model.JobRunning),
		string(model.JobClaimed), string(model.JobRunning),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return id, nil
}

func loadJob(ctx context.Context, tx *sql.Tx, id int64) (*model.Job, error) {
	var j model.Job
	var jobUUID string
	var status string
	var reportID sql.NullInt64
	var runnerID sql.NullInt64
	var claimed, started, lastHeartbeat, completed sql.NullTime
	var exitCode sql.NullInt64

	err := tx.QueryRowContext(ctx, `
		SELECT uuid, report_id, organization_id, source_ip, status, spec_id, config_json, timeout_secs, priority,
		       runner_id, claimed, started, last_heartbeat, completed, exit_code, created, modified
		FROM jobs WHERE id = ?`, id).Scan(
		&jobUUID, &reportID, &j.OrganizationID, &j.SourceIP, &status, &j.SpecID, &j.ConfigJSON, &j.TimeoutSecs, &j.Priority,
		&runnerID, &claimed, &started, &lastHeartbeat, &completed, &exitCode, &j.Created, &j.Modified,
	)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	j.ID = id
	parsed, err := uuid.Parse(jobUUID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	j.UUID = parsed
	j.Status = model.JobStatus(status)
	if reportID.Valid {
		v := reportID.Int64
		j.ReportID = &v
	}
	if runnerID.Valid {
		v := runnerID.Int64
		j.RunnerID = &v
	}
	if claimed.Valid {
		v := claimed.Time
		j.Claimed = &v
	}
	if started.Valid {
		v := started.Time
		j.Started = &v
	}
	if lastHeartbeat.Valid {
		v := lastHeartbeat.Time
		j.LastHeartbeat = &v
	}
	if completed.Valid {
		v := completed.Time
		j.Completed = &v
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		j.ExitCode = &v
	}
	return &j, nil
}
