package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/courselab/assessment-engine/internal/assessment"
	"github.com/courselab/assessment-engine/internal/rbac"
)

// POST /targets/{targetID}/comments  { "content": "..." }
// targetID is an attempt or homework-submission id.
func AddCommentHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := chi.URLParam(r, "targetID")
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		author := rbac.SubjectFromContext(r.Context())
		c, err := store.AddComment(r.Context(), targetID, author, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, c)
	}
}

// PUT /comments/{commentID}  { "content": "..." }
// Only the original author may edit; creation time never changes.
func UpdateCommentHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := chi.URLParam(r, "commentID")
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		author := rbac.SubjectFromContext(r.Context())
		c, err := store.UpdateComment(r.Context(), commentID, author, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, c)
	}
}

// GET /targets/{targetID}/comments
func ListCommentsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := chi.URLParam(r, "targetID")
		list, err := store.ListComments(r.Context(), targetID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	}
}
