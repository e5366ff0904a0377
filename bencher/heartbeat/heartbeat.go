// Package heartbeat implements C9: the per-job timeout supervisor that
// schedules a timer whenever a job is claimed or heartbeats, and on fire
// re-reads the job to decide between rescheduling, canceling, or failing
// it -- always under the store's single writer lock with a status guard,
// so it never contends with a concurrent claim or completion.
package heartbeat

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/ambient/sklog"
	"go.bencher.dev/core/bencher/model"
	"go.bencher.dev/core/bencher/store"
)

// Grace is added on top of a job's own timeout before it is deemed
// abandoned rather than merely slow. Matches §5's documented default
// job grace of 60s.
const Grace = 60 * time.Second

// Supervisor tracks one timer per in-flight job and fires the §4.9 state
// machine when a timer expires.
type Supervisor struct {
	store           *store.Store
	heartbeatWindow time.Duration

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

// New constructs a Supervisor. heartbeatWindow is the interval after which
// a job with no observed heartbeat is presumed failed.
func New(s *store.Store, heartbeatWindow time.Duration) *Supervisor {
	return &Supervisor{store: s, heartbeatWindow: heartbeatWindow, timers: make(map[int64]*time.Timer)}
}

// Recover implements startup recovery: every job found Claimed or Running
// is scheduled as if its heartbeat had just been observed, with a full
// heartbeat_window of grace, preventing mass-failure of in-flight jobs
// across a process restart.
func (sv *Supervisor) Recover(ctx context.Context) error {
	rows, err := sv.store.DB.QueryContext(ctx, `SELECT id FROM jobs WHERE status IN (?, ?)`, string(model.JobClaimed), string(model.JobRunning))
	if err != nil {
		return skerr.Wrap(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return skerr.Wrap(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return skerr.Wrap(err)
	}

	for _, id := range ids {
		sklog.Infof("heartbeat: recovering job %d with a full grace window", id)
		sv.schedule(ctx, id, sv.heartbeatWindow)
	}
	return nil
}

// Observe records a heartbeat (claim or any server-bound message on the
// runner's channel) for jobID and (re)schedules its timer.
func (sv *Supervisor) Observe(ctx context.Context, jobID int64) error {
	_, err := sv.store.DB.ExecContext(ctx, `UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status IN (?, ?)`,
		now.Now(ctx), jobID, string(model.JobClaimed), string(model.JobRunning))
	if err != nil {
		return skerr.Wrap(err)
	}
	sv.schedule(ctx, jobID, sv.heartbeatWindow)
	return nil
}

func (sv *Supervisor) schedule(ctx context.Context, jobID int64, after time.Duration) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if existing, ok := sv.timers[jobID]; ok {
		existing.Stop()
	}
	sv.timers[jobID] = time.AfterFunc(after, func() {
		if err := sv.fire(context.Background(), jobID); err != nil {
			sklog.Errorf("heartbeat: firing timer for job %d: %v", jobID, err)
		}
	})
}

// Cancel stops jobID's timer, e.g. once it reaches a terminal state via
// some other path.
func (sv *Supervisor) Cancel(jobID int64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if t, ok := sv.timers[jobID]; ok {
		t.Stop()
		delete(sv.timers, jobID)
	}
}

// fire runs the §4.9 state machine for one timer expiry.
func (sv *Supervisor) fire(ctx context.Context, jobID int64) error {
	var rescheduleAfter time.Duration
	err := sv.store.WithTx(ctx, func(tx *sql.Tx) error {
		var status string
		var timeoutSecs int64
		var started, lastHeartbeat sql.NullTime
		err := tx.QueryRowContext(ctx, `SELECT status, timeout_secs, started, last_heartbeat FROM jobs WHERE id = ?`, jobID).
			Scan(&status, &timeoutSecs, &started, &lastHeartbeat)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return skerr.Wrap(err)
		}

		jobStatus := model.JobStatus(status)
		if jobStatus.IsTerminal() {
			return nil
		}

		nowTime := now.Now(ctx)

		if started.Valid && nowTime.Sub(started.Time) > time.Duration(timeoutSecs)*time.Second+Grace {
			return transition(ctx, tx, jobID, jobStatus, model.JobCanceled, nowTime)
		}

		if lastHeartbeat.Valid && nowTime.Sub(lastHeartbeat.Time) < sv.heartbeatWindow {
			rescheduleAfter = sv.heartbeatWindow - nowTime.Sub(lastHeartbeat.Time)
			return nil
		}

		return transition(ctx, tx, jobID, jobStatus, model.JobFailed, nowTime)
	})
	if err != nil {
		return err
	}
	if rescheduleAfter > 0 {
		sv.schedule(ctx, jobID, rescheduleAfter)
	}
	return nil
}

// transition moves jobID from fromStatus to toStatus, preserving the
// TOCTOU guard so a claim or completion racing this timer cannot be
// silently overwritten.
func transition(ctx context.Context, tx *sql.Tx, jobID int64, fromStatus, toStatus model.JobStatus, at time.Time) error {
	var completedClause string
	args := []interface{}{string(toStatus), at}
	if toStatus.IsTerminal() {
		completedClause = ", completed = ?"
		args = append(args, at)
	}
	args = append(args, jobID, string(fromStatus))

	_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, modified = ?`+completedClause+` WHERE id = ? AND status = ?`, args...)
	return skerr.Wrap(err)
}
