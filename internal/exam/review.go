package exam

import (
	"github.com/campusworks/examportal/internal/grading"
)

// ReviewItem is one question's line in the student-facing breakdown.
type ReviewItem struct {
	QuestionID    string          `json:"question_id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       []string        `json:"options,omitempty"`
	Answer        string          `json:"answer"`
	Answered      bool            `json:"answered"`
	CorrectAnswer string          `json:"correct_answer,omitempty"` // only once disclosure applies
	Score         float64         `json:"score"`
	MaxScore      float64         `json:"max_score"`
	Verdict       grading.Verdict `json:"verdict"`
	Provisional   bool            `json:"provisional"`
	GradedBy      string          `json:"graded_by,omitempty"`
}

// Review is the aggregated, read-only performance summary for one attempt.
type Review struct {
	AttemptID    string          `json:"attempt_id"`
	ExamID       string          `json:"exam_id"`
	ExamTitle    string          `json:"exam_title"`
	Status       AttemptStatus   `json:"status"`
	Score        float64         `json:"score"`
	MaxScore     float64         `json:"max_score"`
	Percentage   int             `json:"percentage"`
	Passed       bool            `json:"passed"`
	Correct      int             `json:"correct"`
	Incorrect    int             `json:"incorrect"`
	Unanswered   int             `json:"unanswered"`
	Total        int             `json:"total"`
	TimeTakenSec int             `json:"time_taken_sec"`
	SubmittedAt  *int64          `json:"submitted_at,omitempty"`
	Feedback     string          `json:"feedback,omitempty"`
	Provisional  bool            `json:"provisional"`
	Items        []ReviewItem    `json:"items"`
}

// BuildReview reconstructs the performance summary from an attempt, its
// grades, and the question snapshot. Where a Grade row exists it wins;
// otherwise the auto-grading heuristic stands in, flagged provisional.
// Correct answers are disclosed only to graders, or to the student once the
// attempt is graded — never mid-attempt. Pure transformation, no writes.
func BuildReview(e Exam, a Attempt, grades []Grade, result *Result, viewerRole string) (Review, error) {
	byQ := make(map[string]Grade, len(grades))
	for _, g := range grades {
		byQ[g.QuestionID] = g
	}
	disclose := viewerRole == "teacher" || viewerRole == "admin" ||
		a.Status == AttemptGraded || a.Status == AttemptClosed

	grader := grading.NewGrader()
	rv := Review{
		AttemptID:    a.ID,
		ExamID:       a.ExamID,
		ExamTitle:    e.Title,
		Status:       a.Status,
		TimeTakenSec: a.TimeTakenSec,
		SubmittedAt:  a.SubmittedAt,
		Total:        len(a.Questions),
	}

	for _, q := range a.Questions {
		ans, ok := a.Answers[q.ID]
		answered := ok && ans != ""
		item := ReviewItem{
			QuestionID:   q.ID,
			QuestionText: q.Text,
			QuestionType: q.Type,
			Options:      q.Options,
			Answer:       ans,
			Answered:     answered,
			MaxScore:     float64(q.Points),
		}
		if g, graded := byQ[q.ID]; graded {
			item.Score = g.Score
			item.GradedBy = g.GraderID
			switch {
			case !answered && g.Score == 0:
				item.Verdict = grading.VerdictUnanswered
			case g.Score >= g.MaxScore:
				item.Verdict = grading.VerdictCorrect
			case g.Score == 0:
				item.Verdict = grading.VerdictIncorrect
			default:
				item.Verdict = grading.VerdictPartial
			}
		} else {
			out := grader.Grade(GradingQ(q), ans, answered)
			item.Score = out.Points
			item.Verdict = out.Verdict
			item.Provisional = out.Provisional
			rv.Provisional = rv.Provisional || out.Provisional
		}
		if disclose {
			item.CorrectAnswer = q.CorrectAnswer
		}
		rv.Score += item.Score
		rv.MaxScore += item.MaxScore
		switch item.Verdict {
		case grading.VerdictCorrect:
			rv.Correct++
		case grading.VerdictUnanswered:
			rv.Unanswered++
		default:
			rv.Incorrect++
		}
		rv.Items = append(rv.Items, item)
	}

	pct, err := grading.Percentage(rv.Score, rv.MaxScore)
	if err != nil {
		return Review{}, ErrConfig
	}
	rv.Percentage = pct
	rv.Passed = rv.Score >= float64(e.PassingMarks)

	// The persisted Result is authoritative once grading is final.
	if result != nil {
		rv.Score = result.Score
		rv.Percentage = result.Percentage
		rv.Passed = result.Passed
		rv.Feedback = result.Feedback
		rv.Provisional = false
	}
	return rv, nil
}
