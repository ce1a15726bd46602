package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/courselab/assessment-engine/internal/assessment"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP statuses:
// validation 400, not-found 404, conflict 409, lifecycle-state 422.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case assessment.IsValidation(err):
		status = http.StatusBadRequest
	case assessment.IsNotFound(err):
		status = http.StatusNotFound
	case assessment.IsConflict(err):
		status = http.StatusConflict
	case assessment.IsState(err):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}

// parseIntDefault parses limit/offset style query params, which are
// never negative.
func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
