package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/service"
)

// formAliases maps the admin form field names to setting keys.
var formAliases = map[string]string{
	"scanFrequency": model.SettingTimeUpdate,
	"rootUrl":       model.SettingAnalyzeURL,
	"storageType":   model.SettingDownloadStorage,
}

type SettingsHandler struct {
	settings *service.SettingsService
}

func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.All(r.Context())
	if err != nil {
		slog.Error("failed to list settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	out := make([]map[string]string, 0, len(settings))
	for _, s := range settings {
		out = append(out, map[string]string{"key": s.Key, "value": s.Value, "description": s.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": out})
}

// Update stores every provided setting. Keys outside the available set are
// rejected before anything is written.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	values := make(map[string]string, len(params))
	for key, raw := range params {
		if alias, ok := formAliases[key]; ok {
			key = alias
		}
		if _, ok := model.AvailableSettings[key]; !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown setting: %s", key))
			return
		}
		value := fmt.Sprint(raw)
		if value == "" {
			continue
		}
		values[key] = value
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		err = h.settings.Validate(key, values[key])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for _, key := range keys {
		err = h.settings.Set(r.Context(), key, values[key])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
