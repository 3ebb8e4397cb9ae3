package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/exam"
	"github.com/campusworks/examportal/internal/grading"
)

// gradingItem is one row of the teacher's grading sheet: the snapshot
// question, the student's answer, and either the recorded grade or the
// provisional auto-score.
type gradingItem struct {
	Question    exam.Question `json:"question"`
	Answer      string        `json:"answer"`
	Answered    bool          `json:"answered"`
	Score       float64       `json:"score"`
	MaxScore    float64       `json:"max_score"`
	Provisional bool          `json:"provisional"`
	GraderID    string        `json:"grader_id,omitempty"`
}

type gradingSheet struct {
	AttemptID    string             `json:"attempt_id"`
	ExamID       string             `json:"exam_id"`
	StudentID    string             `json:"student_id"`
	Status       exam.AttemptStatus `json:"status"`
	GradeVersion int                `json:"grade_version"`
	Items        []gradingItem      `json:"items"`
}

// GET /attempts/{attemptID}/grading
func GetAttemptGradingHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		grades, err := store.ListGrades(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		byQ := make(map[string]exam.Grade, len(grades))
		for _, g := range grades {
			byQ[g.QuestionID] = g
		}
		grader := grading.NewGrader()
		sheet := gradingSheet{
			AttemptID:    a.ID,
			ExamID:       a.ExamID,
			StudentID:    a.StudentID,
			Status:       a.Status,
			GradeVersion: a.GradeVersion,
			Items:        []gradingItem{},
		}
		for _, q := range a.Questions {
			ans, ok := a.Answers[q.ID]
			answered := ok && ans != ""
			item := gradingItem{
				Question: q,
				Answer:   ans,
				Answered: answered,
				MaxScore: float64(q.Points),
			}
			if g, graded := byQ[q.ID]; graded {
				item.Score = g.Score
				item.GraderID = g.GraderID
			} else {
				out := grader.Grade(exam.GradingQ(q), ans, answered)
				item.Score = out.Points
				item.Provisional = true
			}
			sheet.Items = append(sheet.Items, item)
		}
		writeJSON(w, http.StatusOK, sheet)
	}
}

type applyGradesReq struct {
	// Scores holds raw form values; empty strings are tolerated as 0.
	Scores   map[string]string `json:"scores" validate:"required,min=1"`
	Feedback string            `json:"feedback"`
	Version  int               `json:"version" validate:"gte=0"`
}

// POST /attempts/{attemptID}/grading
func ApplyGradesHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyGradesReq
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		a, err := store.ApplyGrades(r.Context(), chi.URLParam(r, "attemptID"), exam.ApplyGradesInput{
			Scores:   req.Scores,
			Feedback: req.Feedback,
			Version:  req.Version,
			GraderID: actorForOwnership(r),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}
