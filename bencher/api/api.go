// Package api wires C1-C10 into the §6 HTTP/WebSocket surface: a
// chi.Router exposing report ingestion, threshold CRUD, and the runner
// job-claim/result-delivery protocol.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go.bencher.dev/core/bencher/ambient/httputils"
	"go.bencher.dev/core/bencher/ambient/metrics2"
	"go.bencher.dev/core/bencher/ambient/sklog"
	"go.bencher.dev/core/bencher/auth"
	"go.bencher.dev/core/bencher/config"
	"go.bencher.dev/core/bencher/heartbeat"
	"go.bencher.dev/core/bencher/identity"
	"go.bencher.dev/core/bencher/ratelimit"
	"go.bencher.dev/core/bencher/store"
)

// Deps are the collaborators every handler closes over.
type Deps struct {
	Store      *store.Store
	Resolver   *identity.Resolver
	Limiter    *ratelimit.Limiter
	Validator  *auth.Validator
	Supervisor *heartbeat.Supervisor
	OCISecret  []byte
	Config     *config.Config
}

// New builds the full §6 router.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestMetrics)
	r.Use(middleware.Recoverer)

	r.Route("/v0", func(r chi.Router) {
		r.Route("/projects/{project}", func(r chi.Router) {
			r.Post("/reports", handleWriteReport(deps))
			r.Route("/thresholds", func(r chi.Router) {
				r.Get("/", handleListThresholds(deps))
				r.Post("/", handleCreateThreshold(deps))
				r.Get("/{uuid}", handleGetThreshold(deps))
				r.Patch("/{uuid}", handleUpdateThreshold(deps))
				r.Delete("/{uuid}", handleDeleteThreshold(deps))
			})
		})
		r.Route("/runners/{runner}", func(r chi.Router) {
			r.Post("/jobs", handleClaimJob(deps))
			r.Get("/channel", handleRunnerChannel(deps))
		})
	})

	return r
}

// requestMetrics counts every request by request path and method,
// mirroring the teacher's per-handler counter convention.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics2.GetCounter("api_requests", map[string]string{"method": r.Method, "path": r.URL.Path}).Inc(1)
		metrics2.GetFloat64Metric("api_request_latency_s", map[string]string{"path": r.URL.Path}).Update(time.Since(start).Seconds())
	})
}

// clampPollTimeout enforces §6's poll_timeout range, defaulting per
// §4.8 when the caller omits it or passes something out of range.
func clampPollTimeout(seconds int) time.Duration {
	if seconds <= 0 || seconds > 60 {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func requireBearer(deps Deps, r *http.Request) (string, error) {
	claims, err := deps.Validator.ValidateBearer(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}
	return claims.UserUUID, nil
}

func writeError(w http.ResponseWriter, err error) {
	sklog.Warningf("api: request failed: %+v", err)
	httputils.ReportError(w, err)
}
