package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/auth"
	"github.com/campusworks/examportal/internal/exam"
)

type questionReq struct {
	Type          exam.QuestionType `json:"type" validate:"required,oneof=mcq descriptive"`
	Text          string            `json:"text" validate:"required,min=1"`
	Options       []string          `json:"options" validate:"omitempty,max=10,dive,min=1"`
	CorrectAnswer string            `json:"correct_answer"`
	Points        int               `json:"points" validate:"required,gt=0,lte=100"`
}

func (q questionReq) toQuestion() exam.Question {
	return exam.Question{
		Type:          q.Type,
		Text:          q.Text,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Points:        q.Points,
	}
}

// POST /questions
func CreateQuestionHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionReq
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		q := req.toQuestion()
		q.CreatedBy = auth.SubjectFromContext(r.Context())
		created, err := store.CreateQuestion(r.Context(), q)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// PUT /questions/{questionID}
func UpdateQuestionHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionReq
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		q := req.toQuestion()
		q.ID = chi.URLParam(r, "questionID")
		updated, err := store.UpdateQuestion(r.Context(), q, actorForOwnership(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DELETE /questions/{questionID}
func DeleteQuestionHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteQuestion(r.Context(), chi.URLParam(r, "questionID"), actorForOwnership(r)); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// GET /questions?limit=&offset=  (scoped to the caller's bank)
func ListQuestionsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := auth.SubjectFromContext(r.Context())
		if auth.RoleFromContext(r.Context()) == "admin" {
			owner = r.URL.Query().Get("owner") // admins may inspect any bank
		}
		list, err := store.ListQuestions(r.Context(), owner,
			parseIntDefault(r.URL.Query().Get("limit"), 50),
			parseIntDefault(r.URL.Query().Get("offset"), 0))
		if err != nil {
			writeErr(w, err)
			return
		}
		if list == nil {
			list = []exam.Question{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// POST /exams/{examID}/questions  { "question_id": "...", "position": 3 }
func AttachQuestionHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QuestionID string `json:"question_id" validate:"required"`
			Position   int    `json:"position" validate:"gte=0"`
		}
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		examID := chi.URLParam(r, "examID")
		if err := store.AttachQuestion(r.Context(), examID, req.QuestionID, req.Position, actorForOwnership(r)); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
	}
}

// DELETE /exams/{examID}/questions/{questionID}
func DetachQuestionHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.DetachQuestion(r.Context(),
			chi.URLParam(r, "examID"), chi.URLParam(r, "questionID"), actorForOwnership(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
	}
}
