package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/websocket"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/ambient/sklog"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Runners are a distinct first-party client, not a browser origin
	// this needs to police.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// runnerEvent is the §4.9 runner->server message envelope: every
// inbound message is itself a heartbeat, whatever its event names.
type runnerEvent struct {
	Event   string   `json:"event"`
	Results []string `json:"results,omitempty"`
	Error   string   `json:"error,omitempty"`
	JobID   int64    `json:"job_id"`
}

// serverEvent is the §4.9 server->runner message envelope.
type serverEvent struct {
	Event string `json:"event"`
	JobID int64  `json:"job_id,omitempty"`
}

const (
	eventRunning   = "running"
	eventHeartbeat = "heartbeat"
	eventCompleted = "completed"
	eventFailed    = "failed"
	eventCanceled  = "canceled"

	eventAck    = "ack"
	eventCancel = "cancel"
)

func handleRunnerChannel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		runner, err := authenticateRunner(ctx, deps, r)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sklog.Warningf("api: ws upgrade failed for runner %s: %v", runner.UUID, err)
			return
		}
		defer conn.Close()

		for {
			var evt runnerEvent
			if err := conn.ReadJSON(&evt); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sklog.Warningf("api: ws read error for runner %s: %v", runner.UUID, err)
				}
				return
			}

			if err := deps.Supervisor.Observe(ctx, evt.JobID); err != nil {
				sklog.Warningf("api: heartbeat observe failed for job %d: %v", evt.JobID, err)
			}

			if err := handleRunnerEvent(ctx, deps, evt); err != nil {
				sklog.Warningf("api: handling %s event for job %d failed: %v", evt.Event, evt.JobID, err)
				continue
			}

			if err := conn.WriteJSON(serverEvent{Event: eventAck, JobID: evt.JobID}); err != nil {
				return
			}
		}
	}
}

func handleRunnerEvent(ctx context.Context, deps Deps, evt runnerEvent) error {
	switch evt.Event {
	case eventRunning:
		return transitionJob(ctx, deps, evt.JobID, model.JobClaimed, model.JobRunning, true, false)
	case eventHeartbeat:
		return nil
	case eventCompleted:
		return transitionJob(ctx, deps, evt.JobID, model.JobRunning, model.JobSucceeded, false, true)
	case eventFailed:
		return transitionJob(ctx, deps, evt.JobID, model.JobRunning, model.JobFailed, false, true)
	case eventCanceled:
		return transitionJob(ctx, deps, evt.JobID, model.JobRunning, model.JobCanceled, false, true)
	default:
		return apierror.New(apierror.BadRequest, "unknown runner event %q", evt.Event)
	}
}

// transitionJob moves a job from fromStatus to toStatus, optionally
// stamping started and/or completed, and cancels its heartbeat timer
// once it reaches a terminal state.
func transitionJob(ctx context.Context, deps Deps, jobID int64, fromStatus, toStatus model.JobStatus, setStarted, setCompleted bool) error {
	ts := now.Now(ctx)
	err := deps.Store.WithTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE jobs SET status = ?, modified = ?`
		args := []interface{}{string(toStatus), ts}
		if setStarted {
			query += `, started = ?`
			args = append(args, ts)
		}
		if setCompleted {
			query += `, completed = ?`
			args = append(args, ts)
		}
		query += ` WHERE id = ? AND status = ?`
		args = append(args, jobID, string(fromStatus))

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return skerr.Wrapf(err, "transitioning job %d", jobID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return skerr.Wrap(err)
		}
		if n == 0 {
			return apierror.New(apierror.Conflict, "job %d is not in status %s", jobID, fromStatus)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if toStatus.IsTerminal() {
		deps.Supervisor.Cancel(jobID)
	}
	return nil
}
