package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/courselab/assessment-engine/internal/assessment"
	"github.com/courselab/assessment-engine/internal/rbac"
)

// POST /attempts  { "test_id": "..." }
// The student comes from the token; one live attempt per (test, student).
func StartAttemptHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TestID string `json:"test_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.TestID == "" {
			http.Error(w, "test_id required", http.StatusBadRequest)
			return
		}
		sub := rbac.SubjectFromContext(r.Context())
		a, err := store.StartAttempt(r.Context(), req.TestID, sub)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// PUT /attempts/{attemptID}/answers/{questionID}
// Last write wins per question while the attempt is live.
func SaveAnswerHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		questionID := chi.URLParam(r, "questionID")
		var resp assessment.Response
		if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		a, err := store.SaveAnswer(r.Context(), attemptID, questionID, resp)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// POST /attempts/{attemptID}/submit  { "answers": [...] }  (answers optional)
func SubmitAttemptHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		var req struct {
			Answers []assessment.AnswerSubmission `json:"answers,omitempty"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
		}
		a, err := store.SubmitAttempt(r.Context(), attemptID, req.Answers)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// GET /attempts/{attemptID}
// Callers without attempt:view-all only ever see their own attempts,
// same scoping as the list handler.
func GetAttemptHandler(store assessment.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !canViewAttempt(r, checker, a.UserID) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, a)
	}
}

// canViewAttempt allows the attempt's owner and any role holding
// attempt:view-all.
func canViewAttempt(r *http.Request, checker *rbac.Checker, ownerID string) bool {
	if checker.Has(rbac.RoleFromContext(r.Context()), "attempt:view-all") {
		return true
	}
	return ownerID != "" && ownerID == rbac.SubjectFromContext(r.Context())
}
