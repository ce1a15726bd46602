package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/courselab/assessment-engine/internal/assessment"
	"github.com/courselab/assessment-engine/internal/rbac"
)

func seedGradedAttempt(t *testing.T) (assessment.Store, assessment.Attempt) {
	t.Helper()
	ctx := context.Background()
	store := assessment.NewInMemoryStore()
	test, err := store.CreateTest(ctx, assessment.Test{
		CourseID:   "course-1",
		Title:      "Quiz",
		MaxScore:   10,
		Difficulty: assessment.DifficultyLow,
	})
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	a, err := store.StartAttempt(ctx, test.ID, "alice")
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, err := store.SubmitAttempt(ctx, a.ID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.GradeAttempt(ctx, a.ID, 7, "", "teacher-1"); err != nil {
		t.Fatalf("grade: %v", err)
	}
	return store, a
}

func getAs(t *testing.T, router chi.Router, path, sub, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	ctx := rbac.WithSubject(req.Context(), sub)
	ctx = rbac.WithRole(ctx, role)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req.WithContext(ctx))
	return w
}

func TestGetAttemptHandler_ScopedToOwner(t *testing.T) {
	store, a := seedGradedAttempt(t)
	router := chi.NewRouter()
	router.Get("/attempts/{attemptID}", GetAttemptHandler(store))

	cases := []struct {
		name string
		sub  string
		role string
		want int
	}{
		{"owner", "alice", "student", http.StatusOK},
		{"other student", "bob", "student", http.StatusForbidden},
		{"teacher", "t-1", "teacher", http.StatusOK},
		{"admin", "admin", "admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := getAs(t, router, "/attempts/"+a.ID, tc.sub, tc.role)
			if w.Code != tc.want {
				t.Fatalf("status %d, want %d", w.Code, tc.want)
			}
		})
	}

	w := getAs(t, router, "/attempts/missing", "alice", "student")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown attempt: status %d, want 404", w.Code)
	}
}

func TestGetGradeHandler_ScopedToOwner(t *testing.T) {
	store, a := seedGradedAttempt(t)
	router := chi.NewRouter()
	router.Get("/attempts/{attemptID}/grade", GetGradeHandler(store))

	if w := getAs(t, router, "/attempts/"+a.ID+"/grade", "alice", "student"); w.Code != http.StatusOK {
		t.Fatalf("owner: status %d, want 200", w.Code)
	}
	if w := getAs(t, router, "/attempts/"+a.ID+"/grade", "bob", "student"); w.Code != http.StatusForbidden {
		t.Fatalf("other student: status %d, want 403", w.Code)
	}
	if w := getAs(t, router, "/attempts/"+a.ID+"/grade", "t-1", "teacher"); w.Code != http.StatusOK {
		t.Fatalf("teacher: status %d, want 200", w.Code)
	}
}

func TestParseIntDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 50, 50},
		{"25", 50, 25},
		{"0", 50, 0},
		{"-1", 0, 0},
		{"-100", 50, 50},
		{"abc", 50, 50},
	}
	for _, tc := range cases {
		if got := parseIntDefault(tc.in, tc.def); got != tc.want {
			t.Fatalf("parseIntDefault(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}
