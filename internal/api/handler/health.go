// Package handler holds the HTTP handlers for the orchestration API. Each
// handler is constructed with the narrow dependency surface it needs and
// returned as a plain http.HandlerFunc for the router to mount.
package handler

import (
	"context"
	"net/http"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/api/response"
)

// Pinger is a connectivity check on a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. It reports
// database and queue connectivity; any degraded dependency turns the whole
// check into a 503.
func NewHealthHandler(db Pinger, q Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"queue":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		if checks["database"] != "ok" || checks["queue"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
