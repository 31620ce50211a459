package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/service"
)

type SnapshotHandler struct {
	snapshots *service.SnapshotService
}

func NewSnapshotHandler(snapshots *service.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots}
}

// Latest returns the url of the newest snapshot of a type, or an empty url.
func (h *SnapshotHandler) Latest(w http.ResponseWriter, r *http.Request) {
	snapshotType := r.URL.Query().Get("type")
	if snapshotType == "" {
		snapshotType = r.URL.Query().Get("snapshot_type")
	}
	if snapshotType == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	snap, err := h.snapshots.Latest(r.Context(), snapshotType)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"url": ""})
		return
	}
	if err != nil {
		slog.Error("failed to load snapshot", "error", err, "type", snapshotType)
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": snap.URL})
}
