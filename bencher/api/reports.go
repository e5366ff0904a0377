package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go.bencher.dev/core/bencher/adapter"
	"go.bencher.dev/core/bencher/ambient/httputils"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/ratelimit"
	"go.bencher.dev/core/bencher/report"
	"go.bencher.dev/core/bencher/results"
)

// reportSettings mirrors §6's optional report.settings object.
type reportSettings struct {
	Adapter *string `json:"adapter"`
	Average *string `json:"average"`
	Fold    *string `json:"fold"`
}

// writeReportRequest is the §6 POST /v0/projects/{project}/reports body.
type writeReportRequest struct {
	Branch    string          `json:"branch"`
	Hash      *string         `json:"hash"`
	Testbed   string          `json:"testbed"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Results   []string        `json:"results"`
	Settings  *reportSettings `json:"settings"`
}

func handleWriteReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userUUID, err := requireBearer(deps, r)
		if err != nil {
			writeError(w, err)
			return
		}

		project, err := resolveProject(ctx, deps, chi.URLParam(r, "project"))
		if err != nil {
			writeError(w, err)
			return
		}

		if err := deps.Limiter.Allow(ctx, ratelimit.CategoryRun, userUUID); err != nil {
			writeError(w, err)
			return
		}

		var req writeReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierror.Wrap(apierror.BadRequest, err, "decoding report body"))
			return
		}
		if req.Branch == "" || req.Testbed == "" || len(req.Results) == 0 {
			writeError(w, apierror.New(apierror.BadRequest, "branch, testbed, and results are required"))
			return
		}

		tag, err := adapterTag(req.Settings)
		if err != nil {
			writeError(w, err)
			return
		}

		written, err := report.Write(ctx, deps.Store, deps.Resolver, report.Input{
			ProjectID:  project.ID,
			BranchRef:  req.Branch,
			Hash:       req.Hash,
			TestbedRef: req.Testbed,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
			Adapter:    tag,
			RawResults: req.Results,
			Settings:   settingsFrom(req.Settings),
		})
		if err != nil {
			writeError(w, err)
			return
		}

		httputils.WriteJSON(w, written)
	}
}

func adapterTag(s *reportSettings) (adapter.Tag, error) {
	if s == nil || s.Adapter == nil || *s.Adapter == "" {
		return adapter.TagMagic, nil
	}
	tag := adapter.Tag(*s.Adapter)
	if _, ok := adapter.Lookup(tag); !ok {
		return "", apierror.New(apierror.BadRequest, "unknown adapter %q", *s.Adapter)
	}
	return tag, nil
}

func settingsFrom(s *reportSettings) results.Settings {
	settings := results.Settings{}
	if s == nil {
		return settings
	}
	if s.Average != nil {
		settings.Average = results.Average(*s.Average)
	}
	if s.Fold != nil {
		settings.Fold = results.Fold(*s.Fold)
	}
	return settings
}
