package handler

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error_message": message})
}

// readParams accepts a JSON object body or form values. Repeated form keys
// keep their first value.
func readParams(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		params := map[string]any{}
		err := json.NewDecoder(r.Body).Decode(&params)
		if err != nil {
			return nil, err
		}
		return params, nil
	}

	err := r.ParseForm()
	if err != nil {
		return nil, err
	}
	params := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params, nil
}
