package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/auth"
	"github.com/campusworks/examportal/internal/exam"
)

// GET /attempts/{attemptID}/result
func GetResultHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !mayViewAttempt(r, a) {
			writeErr(w, exam.ErrForbidden)
			return
		}
		res, err := store.GetResult(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /attempts/{attemptID}/review
//
// Reconstructs the per-question breakdown. Works on any submitted attempt:
// while grading is pending the heuristic scores stand in, flagged
// provisional; once a Result exists its totals are authoritative.
func ReviewHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !mayViewAttempt(r, a) {
			writeErr(w, exam.ErrForbidden)
			return
		}
		if a.Status == exam.AttemptDraft {
			writeErr(w, exam.ErrState)
			return
		}
		e, err := store.GetExam(r.Context(), a.ExamID, false)
		if err != nil {
			writeErr(w, err)
			return
		}
		grades, err := store.ListGrades(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		var res *exam.Result
		got, err := store.GetResult(r.Context(), attemptID)
		switch {
		case err == nil:
			res = &got
		case errors.Is(err, exam.ErrNotFound):
			// not graded yet, review stays provisional
		default:
			writeErr(w, err)
			return
		}
		rv, err := exam.BuildReview(e, a, grades, res, auth.RoleFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rv)
	}
}

// GET /results?exam_id=&student_id=&limit=&offset=
// Callers without result:view-all see only their own results.
func ListResultsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		role := auth.RoleFromContext(r.Context())
		studentID := strings.TrimSpace(q.Get("student_id"))
		if role != "teacher" && role != "admin" {
			studentID = auth.SubjectFromContext(r.Context())
		}
		list, err := store.ListResults(r.Context(),
			strings.TrimSpace(q.Get("exam_id")), studentID,
			parseIntDefault(q.Get("limit"), 50),
			parseIntDefault(q.Get("offset"), 0))
		if err != nil {
			writeErr(w, err)
			return
		}
		if list == nil {
			list = []exam.Result{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
