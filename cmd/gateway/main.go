package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/courselab/assessment-engine/internal/api/http"
	"github.com/courselab/assessment-engine/internal/assessment"
	auth "github.com/courselab/assessment-engine/internal/auth/middleware"
	"github.com/courselab/assessment-engine/internal/config"
	"github.com/courselab/assessment-engine/internal/db"
	"github.com/courselab/assessment-engine/internal/rbac"
)

func main() {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := assessment.NewSQLStore(dbh)

	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.AdminUser, cfg.AdminPassHash)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc))

	// Protected API (JWT -> subject+role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Question bank (teachers)
		pr.With(rbac.Require("test:create")).
			Post("/tests", api.CreateTestHandler(store))
		pr.With(rbac.Require("test:view")).
			Get("/tests/{testID}", api.GetTestHandler(store))
		pr.With(rbac.Require("question:edit")).
			Post("/tests/{testID}/questions", api.AddQuestionHandler(store))
		pr.With(rbac.Require("question:edit")).
			Put("/tests/{testID}/questions/{questionID}", api.UpdateQuestionHandler(store))

		// Attempt lifecycle (students)
		pr.With(rbac.Require("attempt:create")).
			Post("/attempts", api.StartAttemptHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Put("/attempts/{attemptID}/answers/{questionID}", api.SaveAnswerHandler(store))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(store))

		// Grading (teachers)
		pr.With(rbac.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grade", api.GradeAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/grade", api.GetGradeHandler(store))
		pr.With(rbac.Require("attempt:sweep")).
			Post("/attempts/sweep", api.ExpireOverdueHandler(store))

		// Feedback threads
		pr.With(rbac.Require("comment:add")).
			Post("/targets/{targetID}/comments", api.AddCommentHandler(store))
		pr.With(rbac.Require("comment:edit")).
			Put("/comments/{commentID}", api.UpdateCommentHandler(store))
		pr.With(rbac.RequireAny("comment:add", "attempt:view-all")).
			Get("/targets/{targetID}/comments", api.ListCommentsHandler(store))
	})

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
