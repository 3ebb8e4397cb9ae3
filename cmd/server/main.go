package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	api "github.com/campusworks/examportal/internal/api/http"
	"github.com/campusworks/examportal/internal/auth"
	"github.com/campusworks/examportal/internal/config"
	"github.com/campusworks/examportal/internal/db"
	"github.com/campusworks/examportal/internal/exam"
	"github.com/campusworks/examportal/internal/notify"
	"github.com/campusworks/examportal/internal/rbac"
	"github.com/campusworks/examportal/internal/schedule"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	if err := seedAdmin(ctx, dbh, cfg.AdminUser, cfg.AdminPass); err != nil {
		log.Fatalf("seed admin: %v", err)
	}

	events := notify.NewLog(dbh)
	hub := notify.NewHub()
	store := exam.NewSQLStore(dbh, events, hub)
	authSvc := auth.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)

	sweeper := schedule.New(store, cfg.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer sweeper.Stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.With(middleware.Timeout(30*time.Second)).Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	// Long-lived event stream: mounted outside the request timeout, which
	// would cut every stream off at 30 seconds.
	r.Group(func(sr chi.Router) {
		sr.Use(auth.JWTMiddleware(authSvc))
		sr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/events", api.AttemptEventsHandler(store, hub))
	})

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(middleware.Timeout(30 * time.Second))

		// Exam management
		pr.With(rbac.Require("exam:create")).
			Post("/exams", api.CreateExamHandler(store))
		pr.With(rbac.Require("exam:update")).
			Put("/exams/{examID}", api.UpdateExamHandler(store))
		pr.With(rbac.Require("exam:publish")).
			Post("/exams/{examID}/status", api.SetExamStatusHandler(store))
		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", api.GetExamHandler(store))
		pr.With(rbac.Require("exam:view")).
			Get("/exams", api.ListExamsHandler(store))

		// Question bank
		pr.With(rbac.Require("question:manage")).
			Post("/questions", api.CreateQuestionHandler(store))
		pr.With(rbac.Require("question:manage")).
			Put("/questions/{questionID}", api.UpdateQuestionHandler(store))
		pr.With(rbac.Require("question:manage")).
			Delete("/questions/{questionID}", api.DeleteQuestionHandler(store))
		pr.With(rbac.Require("question:manage")).
			Get("/questions", api.ListQuestionsHandler(store))
		pr.With(rbac.Require("question:manage")).
			Post("/exams/{examID}/questions", api.AttachQuestionHandler(store))
		pr.With(rbac.Require("question:manage")).
			Delete("/exams/{examID}/questions/{questionID}", api.DetachQuestionHandler(store))

		// Student flow
		pr.With(rbac.Require("attempt:create")).
			Post("/attempts", api.StartAttemptHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/answers", api.SaveAnswersHandler(store))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/timer", api.AttemptTimerHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(store))

		// Grading (teacher/admin)
		pr.With(rbac.Require("attempt:grade")).
			Get("/attempts/{attemptID}/grading", api.GetAttemptGradingHandler(store))
		pr.With(rbac.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grading", api.ApplyGradesHandler(store))
		pr.With(rbac.Require("attempt:close")).
			Post("/attempts/{attemptID}/close", api.CloseAttemptHandler(store))

		// Results
		pr.With(rbac.RequireAny("result:view-own", "result:view-all")).
			Get("/attempts/{attemptID}/result", api.GetResultHandler(store))
		pr.With(rbac.RequireAny("result:view-own", "result:view-all")).
			Get("/attempts/{attemptID}/review", api.ReviewHandler(store))
		pr.With(rbac.RequireAny("result:view-own", "result:view-all")).
			Get("/results", api.ListResultsHandler(store))

		// Users (teacher/admin)
		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", api.BulkUpsertUsersHandler(dbh))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", api.ChangePasswordHandler(dbh))
		pr.With(rbac.Require("users:bulk_upsert")).
			Put("/users/{userID}/role", api.AdminUpdateUserRoleHandler(dbh))

		// Change feed (teacher/admin pollers)
		pr.With(rbac.Require("attempt:view-all")).
			Get("/events", api.PollEventsHandler(events))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	log.Printf("exam portal listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal(err)
	}
}

// seedAdmin creates the bootstrap admin account on first start.
func seedAdmin(ctx context.Context, dbh *sql.DB, username, password string) error {
	var id string
	err := dbh.QueryRowContext(ctx, `SELECT id FROM users WHERE username=$1`, username).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return err
	}
	_, err = dbh.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, display_name, created_at)
		 VALUES ($1,$2,$3,'admin','Administrator',$4)`,
		uuid.NewString(), username, string(hash), time.Now().Unix())
	if err == nil {
		log.Printf("seeded admin user %q", username)
	}
	return err
}
