package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/auth"
	"github.com/campusworks/examportal/internal/exam"
)

// POST /attempts  { "exam_id": "..." }
func StartAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExamID string `json:"exam_id" validate:"required"`
		}
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		a, err := store.StartAttempt(r.Context(), req.ExamID, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

// POST /attempts/{attemptID}/answers  { "<questionID>": "<answer>", ... }
func SaveAnswersHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var answers map[string]string
		if err := json.NewDecoder(r.Body).Decode(&answers); err != nil {
			writeErr(w, fmt.Errorf("%w: bad json: %v", exam.ErrValidation, err))
			return
		}
		a, err := store.SaveAnswers(r.Context(), chi.URLParam(r, "attemptID"),
			auth.SubjectFromContext(r.Context()), answers)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.SubmitAttempt(r.Context(), chi.URLParam(r, "attemptID"),
			auth.SubjectFromContext(r.Context()), false)
		if err != nil {
			writeErr(w, err)
			return
		}
		if auth.RoleFromContext(r.Context()) == "student" {
			stripAttemptKeys(&a)
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if !mayViewAttempt(r, a) {
			writeErr(w, exam.ErrForbidden)
			return
		}
		if auth.RoleFromContext(r.Context()) == "student" && a.Status != exam.AttemptGraded && a.Status != exam.AttemptClosed {
			stripAttemptKeys(&a)
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /attempts/{attemptID}/timer
func AttemptTimerHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if !mayViewAttempt(r, a) {
			writeErr(w, exam.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, a.Timer(time.Now()))
	}
}

// GET /attempts?exam_id=&student_id=&status=&limit=&offset=
// Callers without attempt:view-all are forced onto their own attempts.
func ListAttemptsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		role := auth.RoleFromContext(r.Context())
		studentID := strings.TrimSpace(q.Get("student_id"))
		if role != "teacher" && role != "admin" {
			studentID = auth.SubjectFromContext(r.Context())
		}
		list, err := store.ListAttempts(r.Context(), exam.AttemptListOpts{
			ExamID:    strings.TrimSpace(q.Get("exam_id")),
			StudentID: studentID,
			Status:    exam.AttemptStatus(strings.TrimSpace(q.Get("status"))),
			Limit:     parseIntDefault(q.Get("limit"), 50),
			Offset:    parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		if role == "student" {
			for i := range list {
				if list[i].Status != exam.AttemptGraded && list[i].Status != exam.AttemptClosed {
					stripAttemptKeys(&list[i])
				}
			}
		}
		if list == nil {
			list = []exam.Attempt{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// POST /attempts/{attemptID}/close
func CloseAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.CloseAttempt(r.Context(), chi.URLParam(r, "attemptID"), actorForOwnership(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func mayViewAttempt(r *http.Request, a exam.Attempt) bool {
	role := auth.RoleFromContext(r.Context())
	if role == "teacher" || role == "admin" {
		return true
	}
	return a.StudentID == auth.SubjectFromContext(r.Context())
}

// stripAttemptKeys blanks answer keys in the attempt's question snapshot.
// Correct answers are never visible to a student mid-attempt.
func stripAttemptKeys(a *exam.Attempt) {
	for i := range a.Questions {
		a.Questions[i].CorrectAnswer = ""
	}
}
