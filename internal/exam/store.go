package exam

import (
	"context"
	"time"
)

type ListOpts struct {
	Q          string // title substring
	Subject    string
	Status     ExamStatus
	ViewerID   string
	ViewerRole string // "student" | "teacher" | "admin"
	Limit      int
	Offset     int
}

type AttemptListOpts struct {
	ExamID    string
	StudentID string
	Status    AttemptStatus
	Limit     int
	Offset    int
}

// ApplyGradesInput carries a manual-grading write. Scores are the raw form
// values keyed by question ID; parsing and clamping happen store-side so the
// same tolerance rules apply to every caller. Version is the grade_version
// the grader read; a mismatch fails with ErrConflict.
type ApplyGradesInput struct {
	Scores   map[string]string
	Feedback string
	Version  int
	GraderID string
}

type Store interface {
	CreateExam(ctx context.Context, e Exam) (Exam, error)
	UpdateExam(ctx context.Context, e Exam, actorID string) (Exam, error)
	SetExamStatus(ctx context.Context, examID string, next ExamStatus, actorID string) (Exam, error)
	// GetExam returns the exam; withQuestions loads the ordered question set
	// including answer keys — callers serving students must StripAnswers.
	GetExam(ctx context.Context, id string, withQuestions bool) (Exam, error)
	ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error)

	CreateQuestion(ctx context.Context, q Question) (Question, error)
	UpdateQuestion(ctx context.Context, q Question, actorID string) (Question, error)
	DeleteQuestion(ctx context.Context, id, actorID string) error
	ListQuestions(ctx context.Context, ownerID string, limit, offset int) ([]Question, error)
	AttachQuestion(ctx context.Context, examID, questionID string, position int, actorID string) error
	DetachQuestion(ctx context.Context, examID, questionID, actorID string) error

	StartAttempt(ctx context.Context, examID, studentID string) (Attempt, error)
	SaveAnswers(ctx context.Context, attemptID, studentID string, answers map[string]string) (Attempt, error)
	// SubmitAttempt freezes answers, snapshots questions, auto-grades, and
	// advances status. forced marks a deadline-driven submission, which
	// bypasses the ownership check and is a no-op if already submitted.
	SubmitAttempt(ctx context.Context, attemptID, actorID string, forced bool) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	CloseAttempt(ctx context.Context, attemptID, actorID string) (Attempt, error)

	ListGrades(ctx context.Context, attemptID string) ([]Grade, error)
	// ApplyGrades upserts one Grade per scored question and, once every
	// question has a grade, writes the Result and advances the attempt to
	// graded — all in one transaction. Idempotent: re-grading replaces.
	ApplyGrades(ctx context.Context, attemptID string, in ApplyGradesInput) (Attempt, error)
	GetResult(ctx context.Context, attemptID string) (Result, error)
	ListResults(ctx context.Context, examID, studentID string, limit, offset int) ([]Result, error)

	// ExpiredAttemptIDs lists draft attempts whose deadline is in the past,
	// for the sweeper to force-submit.
	ExpiredAttemptIDs(ctx context.Context, now time.Time) ([]string, error)
	// ArchiveEndedExams archives published auto_close exams whose window has
	// ended, returning how many were archived.
	ArchiveEndedExams(ctx context.Context, now time.Time) (int, error)
}
