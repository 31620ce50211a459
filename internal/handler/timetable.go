package handler

import (
	"log/slog"
	"net/http"

	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/service"
)

var filterCategories = []string{
	model.TagCategoryEducationForm,
	model.TagCategoryFaculty,
	model.TagCategoryCourse,
	model.TagCategoryTypeTimetable,
	model.TagCategoryDegree,
}

type TimetableHandler struct {
	listing *service.ListingService
}

func NewTimetableHandler(listing *service.ListingService) *TimetableHandler {
	return &TimetableHandler{listing: listing}
}

// Params answers the drill-down with the next selector or the matching files.
func (h *TimetableHandler) Params(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := make(map[string]string)
	for _, category := range filterCategories {
		if v := q.Get(category); v != "" {
			filters[category] = v
		}
	}

	listing, err := h.listing.Params(r.Context(), filters)
	if err != nil {
		slog.Error("failed to build timetable listing", "error", err, "filters", filters)
		writeError(w, http.StatusInternalServerError, "failed to load timetable")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
