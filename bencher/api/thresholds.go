package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"go.bencher.dev/core/bencher/ambient/httputils"
	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/identity"
	"go.bencher.dev/core/bencher/model"
)

// modelRequest mirrors a Threshold's Model (its test configuration),
// the body shape §6 reuses for both create and update.
type modelRequest struct {
	Test          model.Test `json:"test"`
	MinSampleSize *int64     `json:"min_sample_size"`
	MaxSampleSize *int64     `json:"max_sample_size"`
	WindowSeconds *int64     `json:"window_seconds"`
	LowerBoundary *float64   `json:"lower_boundary"`
	UpperBoundary *float64   `json:"upper_boundary"`
}

type createThresholdRequest struct {
	Branch  string       `json:"branch"`
	Testbed string       `json:"testbed"`
	Measure string       `json:"measure"`
	Model   modelRequest `json:"model"`
}

func handleListThresholds(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, err := requireBearer(deps, r); err != nil {
			writeError(w, err)
			return
		}
		project, err := resolveProject(ctx, deps, chi.URLParam(r, "project"))
		if err != nil {
			writeError(w, err)
			return
		}
		thresholds, err := listThresholds(ctx, deps, project.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		httputils.WriteJSON(w, thresholds)
	}
}

func handleGetThreshold(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, err := requireBearer(deps, r); err != nil {
			writeError(w, err)
			return
		}
		project, err := resolveProject(ctx, deps, chi.URLParam(r, "project"))
		if err != nil {
			writeError(w, err)
			return
		}
		threshold, err := getThreshold(ctx, deps, project.ID, chi.URLParam(r, "uuid"))
		if err != nil {
			writeError(w, err)
			return
		}
		httputils.WriteJSON(w, threshold)
	}
}

func handleCreateThreshold(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, err := requireBearer(deps, r); err != nil {
			writeError(w, err)
			return
		}
		project, err := resolveProject(ctx, deps, chi.URLParam(r, "project"))
		if err != nil {
			writeError(w, err)
			return
		}

		var req createThresholdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierror.Wrap(apierror.BadRequest, err, "decoding threshold body"))
			return
		}
		if req.Branch == "" || req.Testbed == "" || req.Measure == "" || req.Model.Test == "" {
			writeError(w, apierror.New(apierror.BadRequest, "branch, testbed, measure, and model.test are required"))
			return
		}

		threshold, err := createThreshold(ctx, deps, project.ID, req)
		if err != nil {
			writeError(w, err)
			return
		}
		httputils.WriteJSON(w, threshold)
	}
}

func handleUpdateThreshold(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, err := requireBearer(deps, r); err != nil {
			writeError(w, err)
			return
		}
		project, err := resolveProject(ctx, deps, chi.URLParam(r, "project"))
		if err != nil {
			writeError(w, err)
			return
		}

		var req modelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierror.Wrap(apierror.BadRequest, err, "decoding model body"))
			return
		}
		if req.Test == "" {
			writeError(w, apierror.New(apierror.BadRequest, "test is required"))
			return
		}

		threshold, err := updateThreshold(ctx, deps, project.ID, chi.URLParam(r, "uuid"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		httputils.WriteJSON(w, threshold)
	}
}

func handleDeleteThreshold(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, err := requireBearer(deps, r); err != nil {
			writeError(w, err)
			return
		}
		project, err := resolveProject(ctx, deps, chi.URLParam(r, "project"))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := deleteThreshold(ctx, deps, project.ID, chi.URLParam(r, "uuid")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listThresholds(ctx context.Context, deps Deps, projectID int64) ([]model.Threshold, error) {
	rows, err := deps.Store.DB.QueryContext(ctx, `
		SELECT id, uuid, project_id, branch_id, testbed_id, measure_id, current_model_id, created, modified
		FROM thresholds WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing thresholds")
	}
	defer rows.Close()

	var out []model.Threshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, skerr.Wrap(rows.Err())
}

func getThreshold(ctx context.Context, deps Deps, projectID int64, thresholdUUID string) (model.Threshold, error) {
	row := deps.Store.DB.QueryRowContext(ctx, `
		SELECT id, uuid, project_id, branch_id, testbed_id, measure_id, current_model_id, created, modified
		FROM thresholds WHERE project_id = ? AND uuid = ?`, projectID, thresholdUUID)
	return scanThreshold(row)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThreshold(row rowScanner) (model.Threshold, error) {
	var t model.Threshold
	var rawUUID string
	err := row.Scan(&t.ID, &rawUUID, &t.ProjectID, &t.BranchID, &t.TestbedID, &t.MeasureID, &t.CurrentModelID, &t.Created, &t.Modified)
	switch {
	case err == sql.ErrNoRows:
		return model.Threshold{}, apierror.New(apierror.NotFound, "threshold not found")
	case err != nil:
		return model.Threshold{}, skerr.Wrapf(err, "scanning threshold")
	}
	t.UUID, err = uuid.Parse(rawUUID)
	if err != nil {
		return model.Threshold{}, skerr.Wrapf(err, "parsing threshold uuid")
	}
	return t, nil
}

func createThreshold(ctx context.Context, deps Deps, projectID int64, req createThresholdRequest) (model.Threshold, error) {
	var threshold model.Threshold
	err := deps.Store.WithTx(ctx, func(tx *sql.Tx) error {
		txResolver := deps.Resolver.Scoped(tx)
		branchID, err := txResolver.Resolve(ctx, projectID, identity.KindBranch, req.Branch, true)
		if err != nil {
			return err
		}
		testbedID, err := txResolver.Resolve(ctx, projectID, identity.KindTestbed, req.Testbed, true)
		if err != nil {
			return err
		}
		measureID, err := txResolver.Resolve(ctx, projectID, identity.KindMeasure, req.Measure, true)
		if err != nil {
			return err
		}

		thresholdUUID := uuid.New()
		ts := now.Now(ctx)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO thresholds (uuid, project_id, branch_id, testbed_id, measure_id, created, modified)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			thresholdUUID.String(), projectID, branchID, testbedID, measureID, ts, ts)
		if err != nil {
			return apierror.Wrap(apierror.Conflict, err, "a threshold for this branch/testbed/measure already exists")
		}
		thresholdID, err := res.LastInsertId()
		if err != nil {
			return skerr.Wrap(err)
		}

		modelID, err := insertModel(ctx, tx, thresholdID, req.Model, ts)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE thresholds SET current_model_id = ? WHERE id = ?`, modelID, thresholdID); err != nil {
			return skerr.Wrapf(err, "setting current model")
		}

		threshold = model.Threshold{
			ID: thresholdID, UUID: thresholdUUID, ProjectID: projectID, BranchID: branchID,
			TestbedID: testbedID, MeasureID: measureID, CurrentModelID: &modelID, Created: ts, Modified: ts,
		}
		return nil
	})
	if err != nil {
		return model.Threshold{}, err
	}
	return threshold, nil
}

func updateThreshold(ctx context.Context, deps Deps, projectID int64, thresholdUUID string, req modelRequest) (model.Threshold, error) {
	var threshold model.Threshold
	err := deps.Store.WithTx(ctx, func(tx *sql.Tx) error {
		var thresholdID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM thresholds WHERE project_id = ? AND uuid = ?`, projectID, thresholdUUID).Scan(&thresholdID)
		switch {
		case err == sql.ErrNoRows:
			return apierror.New(apierror.NotFound, "threshold not found")
		case err != nil:
			return skerr.Wrapf(err, "looking up threshold")
		}

		ts := now.Now(ctx)
		modelID, err := insertModel(ctx, tx, thresholdID, req, ts)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE thresholds SET current_model_id = ?, modified = ? WHERE id = ?`, modelID, ts, thresholdID); err != nil {
			return skerr.Wrapf(err, "updating current model")
		}

		// Read back through tx: the store's pool has one connection, which
		// this transaction holds.
		threshold, err = scanThreshold(tx.QueryRowContext(ctx, `
			SELECT id, uuid, project_id, branch_id, testbed_id, measure_id, current_model_id, created, modified
			FROM thresholds WHERE id = ?`, thresholdID))
		return err
	})
	if err != nil {
		return model.Threshold{}, err
	}
	return threshold, nil
}

func insertModel(ctx context.Context, tx *sql.Tx, thresholdID int64, req modelRequest, created time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO models (threshold_id, test, min_sample_size, max_sample_size, window_seconds, lower_boundary, upper_boundary, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		thresholdID, string(req.Test), req.MinSampleSize, req.MaxSampleSize, req.WindowSeconds, req.LowerBoundary, req.UpperBoundary, created)
	if err != nil {
		return 0, skerr.Wrapf(err, "inserting model")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return id, nil
}

func deleteThreshold(ctx context.Context, deps Deps, projectID int64, thresholdUUID string) error {
	return deps.Store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM thresholds WHERE project_id = ? AND uuid = ?`, projectID, thresholdUUID)
		if err != nil {
			return skerr.Wrapf(err, "deleting threshold")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return skerr.Wrap(err)
		}
		if n == 0 {
			return apierror.New(apierror.NotFound, "threshold not found")
		}
		return nil
	})
}
