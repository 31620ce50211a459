package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/db"
)

type HealthHandler struct {
	db     *sqlx.DB
	driver string
}

func NewHealthHandler(database *sqlx.DB, driver string) *HealthHandler {
	return &HealthHandler{db: database, driver: driver}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	err := h.db.PingContext(ctx)
	if err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	version, err := db.MigrationVersion(ctx, h.db.DB, h.driver)
	if err != nil {
		slog.Warn("failed to read migration version", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "migration_version": version})
}
