package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"go.bencher.dev/core/bencher/ambient/httputils"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/auth"
	"go.bencher.dev/core/bencher/auth/oci"
	"go.bencher.dev/core/bencher/model"
	"go.bencher.dev/core/bencher/queue"
)

// claimJobRequest is the §6 POST /v0/runners/{runner}/jobs body: an
// optional long-poll timeout, clamped by clampPollTimeout.
type claimJobRequest struct {
	PollTimeoutSecs int `json:"poll_timeout"`
}

// claimedJob is a claimed Job plus the short-TTL OCI pull token the
// runner needs to fetch the job's project image (§4.8 step 3).
type claimedJob struct {
	Job      model.Job `json:"job"`
	OCIToken string    `json:"oci_token,omitempty"`
}

func handleClaimJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		runner, err := authenticateRunner(ctx, deps, r)
		if err != nil {
			writeError(w, err)
			return
		}

		var req claimJobRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, apierror.Wrap(apierror.BadRequest, err, "decoding claim request"))
				return
			}
		}

		job, err := queue.Claim(ctx, deps.Store, runner.ID, clampPollTimeout(req.PollTimeoutSecs))
		if err != nil {
			writeError(w, err)
			return
		}
		if job == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		result := claimedJob{Job: *job}
		if projectUUID, ok, err := projectUUIDForJob(ctx, deps, *job); err != nil {
			writeError(w, err)
			return
		} else if ok {
			token, err := oci.Mint(ctx, deps.OCISecret, projectUUID, []oci.Action{oci.ActionPull}, deps.Config.Timeouts.TokenOCIRunner)
			if err != nil {
				writeError(w, err)
				return
			}
			result.OCIToken = token
		}

		if err := deps.Supervisor.Observe(ctx, job.ID); err != nil {
			writeError(w, err)
			return
		}

		httputils.WriteJSON(w, result)
	}
}

// authenticateRunner validates the bearer runner token against the
// {runner} path param's stored hash, rejecting archived/locked runners.
func authenticateRunner(ctx context.Context, deps Deps, r *http.Request) (model.Runner, error) {
	token, ok := bearerRunnerToken(r.Header.Get("Authorization"))
	if !ok {
		return model.Runner{}, apierror.New(apierror.Unauthorized, "missing runner bearer token")
	}

	runner, err := lookupRunner(ctx, deps, chi.URLParam(r, "runner"))
	if err != nil {
		return model.Runner{}, err
	}
	if !auth.ValidateRunnerToken(token, runner.TokenHash) {
		return model.Runner{}, apierror.New(apierror.Unauthorized, "invalid runner token")
	}
	if runner.Archived {
		return model.Runner{}, apierror.New(apierror.Forbidden, "runner is archived")
	}
	if runner.Locked {
		return model.Runner{}, apierror.New(apierror.Forbidden, "runner is locked")
	}
	return runner, nil
}

func bearerRunnerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func lookupRunner(ctx context.Context, deps Deps, runnerRef string) (model.Runner, error) {
	row := deps.Store.DB.QueryRowContext(ctx, `
		SELECT id, uuid, name, slug, token_hash, created, archived, locked
		FROM runners WHERE uuid = ? OR slug = ?`, runnerRef, runnerRef)

	var runner model.Runner
	var rawUUID string
	err := row.Scan(&runner.ID, &rawUUID, &runner.Name, &runner.Slug, &runner.TokenHash, &runner.Created, &runner.Archived, &runner.Locked)
	switch {
	case err == sql.ErrNoRows:
		return model.Runner{}, apierror.New(apierror.NotFound, "runner %q not found", runnerRef)
	case err != nil:
		return model.Runner{}, skerr.Wrapf(err, "looking up runner %q", runnerRef)
	}
	runner.UUID, err = uuid.Parse(rawUUID)
	if err != nil {
		return model.Runner{}, skerr.Wrapf(err, "parsing runner uuid")
	}
	return runner, nil
}

// projectUUIDForJob resolves the project a job's report belongs to, so
// the minted OCI token can be scoped to it. Jobs with no report (not
// yet wired to a specific project's registry) get no token.
func projectUUIDForJob(ctx context.Context, deps Deps, job model.Job) (string, bool, error) {
	if job.ReportID == nil {
		return "", false, nil
	}
	var projectUUID string
	err := deps.Store.DB.QueryRowContext(ctx, `
		SELECT p.uuid FROM reports r JOIN projects p ON p.id = r.project_id WHERE r.id = ?`, *job.ReportID).Scan(&projectUUID)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, skerr.Wrapf(err, "resolving job project")
	}
	return projectUUID, true, nil
}
