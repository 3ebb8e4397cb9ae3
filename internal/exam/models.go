package exam

import "time"

type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamArchived  ExamStatus = "archived"
)

var examStatusRank = map[ExamStatus]int{
	ExamDraft:     0,
	ExamPublished: 1,
	ExamArchived:  2,
}

// CanAdvanceTo reports whether s may move to next. Exam status only moves
// forward: draft -> published -> archived.
func (s ExamStatus) CanAdvanceTo(next ExamStatus) bool {
	a, ok1 := examStatusRank[s]
	b, ok2 := examStatusRank[next]
	return ok1 && ok2 && b > a
}

type AttemptStatus string

const (
	AttemptDraft     AttemptStatus = "draft"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptInReview  AttemptStatus = "in_review"
	AttemptGraded    AttemptStatus = "graded"
	AttemptClosed    AttemptStatus = "closed"
)

var attemptStatusRank = map[AttemptStatus]int{
	AttemptDraft:     0,
	AttemptSubmitted: 1,
	AttemptInReview:  2,
	AttemptGraded:    3,
	AttemptClosed:    4,
}

// CanAdvanceTo reports whether s may move to next. Attempt status never
// regresses; skipping intermediate states forward is allowed (a fully
// auto-graded submission goes straight to graded).
func (s AttemptStatus) CanAdvanceTo(next AttemptStatus) bool {
	a, ok1 := attemptStatusRank[s]
	b, ok2 := attemptStatusRank[next]
	return ok1 && ok2 && b > a
}

type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionDescriptive QuestionType = "descriptive"
)

type Exam struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	Status          ExamStatus `json:"status"`
	StartTime       *int64     `json:"start_time,omitempty"` // unix seconds
	EndTime         *int64     `json:"end_time,omitempty"`
	IsTimed         bool       `json:"is_timed"`
	AutoClose       bool       `json:"auto_close"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       int64      `json:"created_at"`

	// Questions is populated in exam order when the caller asks for them.
	Questions []Question `json:"questions,omitempty"`
}

// WindowOpen reports whether the exam's scheduling window (if any) contains
// now. An unset bound is open on that side.
func (e Exam) WindowOpen(now time.Time) bool {
	ts := now.Unix()
	if e.StartTime != nil && ts < *e.StartTime {
		return false
	}
	if e.EndTime != nil && ts > *e.EndTime {
		return false
	}
	return true
}

// StripAnswers blanks the answer keys on the exam's questions, for serving
// to students.
func (e *Exam) StripAnswers() {
	for i := range e.Questions {
		e.Questions[i].CorrectAnswer = ""
	}
}

type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
	CreatedBy     string       `json:"created_by,omitempty"`
	CreatedAt     int64        `json:"created_at,omitempty"`
}

type ExamSummary struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	Status          ExamStatus `json:"status"`
	QuestionCount   int        `json:"question_count"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       int64      `json:"created_at"`
}

type Attempt struct {
	ID        string            `json:"id"`
	ExamID    string            `json:"exam_id"`
	StudentID string            `json:"student_id"`
	Status    AttemptStatus     `json:"status"`
	Answers   map[string]string `json:"answers"` // questionID -> answer text

	// AutoScore is the provisional auto-graded total computed at submission.
	// Superseded by the Result once manual grading completes.
	AutoScore float64 `json:"auto_score"`

	TimeTakenSec int    `json:"time_taken_sec"`
	StartedAt    int64  `json:"started_at"`
	SubmittedAt  *int64 `json:"submitted_at,omitempty"`
	Deadline     *int64 `json:"deadline,omitempty"` // unix seconds, timed exams only

	// GradeVersion increments on every grading write; graders send back the
	// version they read so a concurrent overwrite surfaces as a conflict.
	GradeVersion int `json:"grade_version"`

	// Questions is the content snapshot frozen at submission time. Grading
	// and review read this, not the live question bank.
	Questions []Question `json:"questions,omitempty"`
}

type TimerUrgency string

const (
	UrgencyNormal   TimerUrgency = "normal"
	UrgencyWarning  TimerUrgency = "warning"  // under 15 minutes
	UrgencyCritical TimerUrgency = "critical" // under 5 minutes
)

type TimerState struct {
	Timed        bool         `json:"timed"`
	RemainingSec int          `json:"remaining_sec"`
	Urgency      TimerUrgency `json:"urgency"`
	Expired      bool         `json:"expired"`
}

// Timer reports the countdown state of an in-progress attempt at now.
// Urgency thresholds are presentation hints only.
func (a Attempt) Timer(now time.Time) TimerState {
	if a.Deadline == nil {
		return TimerState{Timed: false, Urgency: UrgencyNormal}
	}
	rem := *a.Deadline - now.Unix()
	if rem < 0 {
		rem = 0
	}
	st := TimerState{Timed: true, RemainingSec: int(rem), Expired: rem == 0}
	switch {
	case rem < 5*60:
		st.Urgency = UrgencyCritical
	case rem < 15*60:
		st.Urgency = UrgencyWarning
	default:
		st.Urgency = UrgencyNormal
	}
	return st
}

type Grade struct {
	AttemptID  string  `json:"attempt_id"`
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	GraderID   string  `json:"grader_id"`
	GradedAt   int64   `json:"graded_at"`
}

type Result struct {
	AttemptID  string  `json:"attempt_id"`
	ExamID     string  `json:"exam_id"`
	StudentID  string  `json:"student_id"`
	Score      float64 `json:"score"`
	TotalMarks int     `json:"total_marks"`
	Percentage int     `json:"percentage"`
	Passed     bool    `json:"passed"`
	Feedback   string  `json:"feedback,omitempty"`
	GradedBy   string  `json:"graded_by,omitempty"`
	GradedAt   int64   `json:"graded_at,omitempty"`
}
