package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const healthTimeout = 2 * time.Second

// DBQuerier is the subset of *sql.DB the health check uses.
type DBQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Health reports whether the database answers.
func Health(db DBQuerier, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		var now time.Time
		if err := db.QueryRowContext(ctx, "SELECT NOW()").Scan(&now); err != nil {
			log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusInternalServerError, HealthResponse{Status: "error", Message: "DB not responding"})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: &now})
	}
}

type HealthResponse struct {
	Status  string     `json:"status"`
	Time    *time.Time `json:"time,omitempty"`
	Message string     `json:"message,omitempty"`
}
