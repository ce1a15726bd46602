package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/courselab/assessment-engine/internal/assessment"
	"github.com/courselab/assessment-engine/internal/rbac"
)

// POST /attempts/{attemptID}/grade  { "score": 8, "feedback": "..." }
// Creates or overwrites the grade; regrading in place is allowed.
func GradeAttemptHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		var req struct {
			Score    int    `json:"score"`
			Feedback string `json:"feedback,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		grader := rbac.SubjectFromContext(r.Context())
		g, err := store.GradeAttempt(r.Context(), attemptID, req.Score, req.Feedback, grader)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, g)
	}
}

// GET /attempts/{attemptID}/grade
// Scoped like GetAttemptHandler: students read their own grade only.
func GetGradeHandler(store assessment.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !canViewAttempt(r, checker, a.UserID) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		g, err := store.GetGrade(r.Context(), attemptID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, g)
	}
}

// POST /attempts/sweep
// Materializes expiry for every overdue attempt; meant to be called
// by an external scheduler, the engine never runs its own timer.
func ExpireOverdueHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := store.ExpireOverdue(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]int{"expired": n})
	}
}
