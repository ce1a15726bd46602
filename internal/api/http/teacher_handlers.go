package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/courselab/assessment-engine/internal/assessment"
	"github.com/courselab/assessment-engine/internal/rbac"
)

// POST /tests
func CreateTestHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t assessment.Test
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		created, err := store.CreateTest(r.Context(), t)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, created)
	}
}

// GET /tests/{testID}
// Answer keys are stripped unless the caller may view them.
func GetTestHandler(store assessment.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "testID")
		role := rbac.RoleFromContext(r.Context())
		t, err := store.GetTest(r.Context(), id, checker.Has(role, "test:view-keys"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, t)
	}
}

// POST /tests/{testID}/questions
func AddQuestionHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		var in assessment.QuestionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		q, err := store.AddQuestion(r.Context(), testID, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, q)
	}
}

// PUT /tests/{testID}/questions/{questionID}
func UpdateQuestionHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		questionID := chi.URLParam(r, "questionID")
		var in assessment.QuestionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		q, err := store.UpdateQuestion(r.Context(), testID, questionID, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, q)
	}
}
