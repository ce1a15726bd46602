package http

import (
	"net/http"
	"strings"

	"github.com/courselab/assessment-engine/internal/assessment"
	"github.com/courselab/assessment-engine/internal/rbac"
)

// GET /attempts?test_id=...&user_id=...&status=...&limit=50&offset=0
// Callers without attempt:view-all only ever see their own attempts;
// listing status=submitted is the manual-grading inbox.
func ListAttemptsHandler(store assessment.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.RoleFromContext(r.Context())
		sub := rbac.SubjectFromContext(r.Context())
		if role == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if !checker.Has(role, "attempt:view-all") {
			userID = sub
		}

		list, err := store.ListAttempts(r.Context(), assessment.AttemptListOpts{
			TestID: strings.TrimSpace(r.URL.Query().Get("test_id")),
			UserID: userID,
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	}
}
