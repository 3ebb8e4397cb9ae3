package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/auth"
	"github.com/campusworks/examportal/internal/exam"
)

type examReq struct {
	Title           string `json:"title" validate:"required,min=1,max=200"`
	Subject         string `json:"subject" validate:"max=100"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=1440"`
	TotalMarks      int    `json:"total_marks" validate:"gte=0"`
	PassingMarks    int    `json:"passing_marks" validate:"gte=0"`
	StartTime       *int64 `json:"start_time"`
	EndTime         *int64 `json:"end_time"`
	IsTimed         bool   `json:"is_timed"`
	AutoClose       bool   `json:"auto_close"`
}

func (q examReq) toExam() exam.Exam {
	return exam.Exam{
		Title:           q.Title,
		Subject:         q.Subject,
		DurationMinutes: q.DurationMinutes,
		TotalMarks:      q.TotalMarks,
		PassingMarks:    q.PassingMarks,
		StartTime:       q.StartTime,
		EndTime:         q.EndTime,
		IsTimed:         q.IsTimed,
		AutoClose:       q.AutoClose,
	}
}

// POST /exams
func CreateExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req examReq
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		e := req.toExam()
		e.CreatedBy = auth.SubjectFromContext(r.Context())
		created, err := store.CreateExam(r.Context(), e)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// PUT /exams/{examID}
func UpdateExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req examReq
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		e := req.toExam()
		e.ID = chi.URLParam(r, "examID")
		updated, err := store.UpdateExam(r.Context(), e, actorForOwnership(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// POST /exams/{examID}/status  { "status": "published" }
func SetExamStatusHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status exam.ExamStatus `json:"status" validate:"required,oneof=draft published archived"`
		}
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		e, err := store.SetExamStatus(r.Context(), chi.URLParam(r, "examID"), req.Status, actorForOwnership(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// GET /exams/{examID}?questions=1
// Answer keys are stripped unless the viewer may grade.
func GetExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withQ := r.URL.Query().Get("questions") != ""
		e, err := store.GetExam(r.Context(), chi.URLParam(r, "examID"), withQ)
		if err != nil {
			writeErr(w, err)
			return
		}
		role := auth.RoleFromContext(r.Context())
		if role == "student" {
			if e.Status != exam.ExamPublished {
				writeErr(w, exam.ErrNotFound)
				return
			}
			e.StripAnswers()
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// GET /exams?q=&subject=&status=&limit=&offset=
func ListExamsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		list, err := store.ListExams(r.Context(), exam.ListOpts{
			Q:          strings.TrimSpace(q.Get("q")),
			Subject:    strings.TrimSpace(q.Get("subject")),
			Status:     exam.ExamStatus(strings.TrimSpace(q.Get("status"))),
			ViewerID:   auth.SubjectFromContext(r.Context()),
			ViewerRole: auth.RoleFromContext(r.Context()),
			Limit:      parseIntDefault(q.Get("limit"), 50),
			Offset:     parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		if list == nil {
			list = []exam.ExamSummary{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// actorForOwnership returns the subject for owner checks, or "" for admins,
// which the store treats as unrestricted.
func actorForOwnership(r *http.Request) string {
	if auth.RoleFromContext(r.Context()) == "admin" {
		return ""
	}
	return auth.SubjectFromContext(r.Context())
}
