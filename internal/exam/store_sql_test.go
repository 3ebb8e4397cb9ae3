package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/campusworks/examportal/internal/db"
	"github.com/campusworks/examportal/internal/notify"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return NewSQLStore(dbh, notify.NewLog(dbh), notify.NewHub())
}

func mcq(text, correct string, points int, options ...string) Question {
	return Question{Type: QuestionMCQ, Text: text, Options: options, CorrectAnswer: correct, Points: points}
}

func descriptive(text string, points int) Question {
	return Question{Type: QuestionDescriptive, Text: text, Points: points}
}

// seedExam creates an exam owned by teacher, attaches the questions in order,
// and publishes it. The returned exam has its question set loaded.
func seedExam(t *testing.T, s *SQLStore, teacher string, qs []Question, mod func(*Exam)) Exam {
	t.Helper()
	ctx := context.Background()
	e := Exam{Title: "Midterm", Subject: "math", DurationMinutes: 30, CreatedBy: teacher}
	if mod != nil {
		mod(&e)
	}
	e, err := s.CreateExam(ctx, e)
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	for i, q := range qs {
		q.CreatedBy = teacher
		created, err := s.CreateQuestion(ctx, q)
		if err != nil {
			t.Fatalf("create question %d: %v", i, err)
		}
		if err := s.AttachQuestion(ctx, e.ID, created.ID, i, teacher); err != nil {
			t.Fatalf("attach question %d: %v", i, err)
		}
	}
	e, err = s.SetExamStatus(ctx, e.ID, ExamPublished, teacher)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	full, err := s.GetExam(ctx, e.ID, true)
	if err != nil {
		t.Fatalf("reload exam: %v", err)
	}
	return full
}

func TestPublishRequiresQuestionsAndMarks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.CreateExam(ctx, Exam{Title: "Empty", CreatedBy: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetExamStatus(ctx, e.ID, ExamPublished, "t1"); !errors.Is(err, ErrConfig) {
		t.Fatalf("publishing without questions: want ErrConfig, got %v", err)
	}
}

func TestPublishDerivesTotalMarks(t *testing.T) {
	s := newTestStore(t)
	e := seedExam(t, s, "t1", []Question{
		mcq("2+2?", "4", 10, "3", "4"),
		mcq("3+3?", "6", 15, "5", "6"),
	}, nil)
	if e.TotalMarks != 25 {
		t.Fatalf("total marks %d, want 25 (sum of question points)", e.TotalMarks)
	}
}

func TestExamStatusForwardOnly(t *testing.T) {
	s := newTestStore(t)
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, nil)

	if _, err := s.SetExamStatus(context.Background(), e.ID, ExamDraft, "t1"); !errors.Is(err, ErrState) {
		t.Fatalf("published -> draft: want ErrState, got %v", err)
	}
	if _, err := s.SetExamStatus(context.Background(), e.ID, ExamArchived, "t1"); err != nil {
		t.Fatalf("published -> archived: %v", err)
	}
}

func TestExamOwnership(t *testing.T) {
	s := newTestStore(t)
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, nil)

	e.Title = "Hijacked"
	if _, err := s.UpdateExam(context.Background(), e, "t2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner update: want ErrForbidden, got %v", err)
	}
	// Blank actor is the admin path.
	if _, err := s.UpdateExam(context.Background(), e, ""); err != nil {
		t.Fatalf("admin update: %v", err)
	}
}

func TestStartAttemptChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.CreateExam(ctx, Exam{Title: "Draft only", CreatedBy: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.StartAttempt(ctx, e.ID, "stu1"); !errors.Is(err, ErrState) {
		t.Fatalf("unpublished exam: want ErrState, got %v", err)
	}

	future := time.Now().Add(time.Hour).Unix()
	scheduled := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, func(e *Exam) {
		e.StartTime = &future
	})
	if _, err := s.StartAttempt(ctx, scheduled.ID, "stu1"); !errors.Is(err, ErrState) {
		t.Fatalf("closed window: want ErrState, got %v", err)
	}
}

func TestStartAttemptResumesDraftAndRefusesRetake(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{mcq("2+2?", "4", 10, "3", "4")}, nil)

	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.ID != a.ID {
		t.Fatalf("resume returned a new attempt %s, want %s", again.ID, a.ID)
	}

	if _, err := s.SubmitAttempt(ctx, a.ID, "stu1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StartAttempt(ctx, e.ID, "stu1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("retake: want ErrConflict, got %v", err)
	}
}

func TestTimedAttemptGetsDeadline(t *testing.T) {
	s := newTestStore(t)
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, func(e *Exam) {
		e.IsTimed = true
		e.DurationMinutes = 45
	})
	a, err := s.StartAttempt(context.Background(), e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Deadline == nil {
		t.Fatal("timed attempt must carry a deadline")
	}
	if got := *a.Deadline - a.StartedAt; got != 45*60 {
		t.Fatalf("deadline offset %d, want %d", got, 45*60)
	}
}

func TestSaveAnswers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{
		mcq("2+2?", "4", 10, "3", "4"),
		mcq("3+3?", "6", 10, "5", "6"),
	}, nil)
	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	q1, q2 := e.Questions[0].ID, e.Questions[1].ID

	if _, err := s.SaveAnswers(ctx, a.ID, "stu2", map[string]string{q1: "4"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other student's write: want ErrForbidden, got %v", err)
	}

	a, err = s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{q1: "3"})
	if err != nil {
		t.Fatal(err)
	}
	// Overwrites merge: later saves replace earlier answers and add new ones.
	a, err = s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{q1: "4", q2: "6"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Answers[q1] != "4" || a.Answers[q2] != "6" {
		t.Fatalf("answers after merge: %v", a.Answers)
	}

	if _, err := s.SubmitAttempt(ctx, a.ID, "stu1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{q1: "3"}); !errors.Is(err, ErrState) {
		t.Fatalf("write after submit: want ErrState, got %v", err)
	}
}

func TestSaveAnswersPastDeadline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, func(e *Exam) {
		e.IsTimed = true
		e.DurationMinutes = 10
	})
	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Unix(*a.Deadline+1, 0) }
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{"x": "y"}); !errors.Is(err, ErrDeadline) {
		t.Fatalf("want ErrDeadline, got %v", err)
	}
}

func TestSubmitPureMCQAutoGrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{
		mcq("2+2?", "4", 10, "3", "4"),
		mcq("capital of France?", "Paris", 10, "Paris", "London"),
	}, nil)
	q1, q2 := e.Questions[0].ID, e.Questions[1].ID

	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{q1: "4", q2: " PARIS "}); err != nil {
		t.Fatal(err)
	}
	a, err = s.SubmitAttempt(ctx, a.ID, "stu1", false)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AttemptGraded {
		t.Fatalf("pure mcq attempt should land on graded, got %s", a.Status)
	}
	if a.AutoScore != 20 {
		t.Fatalf("auto score %.1f, want 20", a.AutoScore)
	}
	if len(a.Questions) != 2 {
		t.Fatalf("snapshot has %d questions, want 2", len(a.Questions))
	}

	grades, err := s.ListGrades(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(grades) != 2 {
		t.Fatalf("%d grade rows, want 2", len(grades))
	}
	for _, g := range grades {
		if g.GraderID != autoGrader {
			t.Fatalf("grader %q, want %q", g.GraderID, autoGrader)
		}
	}

	res, err := s.GetResult(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 20 || res.TotalMarks != 20 || res.Percentage != 100 || !res.Passed {
		t.Fatalf("result %+v", res)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, nil)

	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.SubmitAttempt(ctx, a.ID, "stu1", false)
	if err != nil {
		t.Fatal(err)
	}
	// Second submit, even forced, is a no-op returning current state.
	second, err := s.SubmitAttempt(ctx, a.ID, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != first.Status || second.GradeVersion != first.GradeVersion {
		t.Fatalf("resubmit changed state: %+v vs %+v", second, first)
	}
	grades, _ := s.ListGrades(ctx, a.ID)
	if len(grades) != 1 {
		t.Fatalf("%d grade rows after double submit, want 1", len(grades))
	}

	// Exactly one submission is recorded: no duplicated lifecycle events.
	events, err := s.events.Since(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	var submitted, graded int
	for _, ev := range events {
		switch ev.Type {
		case notify.TypeAttemptSubmitted:
			submitted++
		case notify.TypeAttemptGraded:
			graded++
		}
	}
	if submitted != 1 || graded != 1 {
		t.Fatalf("%d submitted / %d graded events, want 1 / 1", submitted, graded)
	}
}

func TestSubmitMixedExamWaitsForTeacher(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{
		mcq("2+2?", "4", 10, "3", "4"),
		descriptive("Explain.", 10),
	}, nil)
	qd := e.Questions[1].ID

	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("w", 60)
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{e.Questions[0].ID: "4", qd: long}); err != nil {
		t.Fatal(err)
	}
	a, err = s.SubmitAttempt(ctx, a.ID, "stu1", false)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AttemptSubmitted {
		t.Fatalf("mixed exam should wait at submitted, got %s", a.Status)
	}
	if a.AutoScore != 17 { // 10 mcq + floor(10*0.75) heuristic
		t.Fatalf("auto score %.1f, want 17", a.AutoScore)
	}
	if _, err := s.GetResult(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no result before manual grading, got %v", err)
	}
}

func TestApplyGradesLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{
		mcq("2+2?", "4", 10, "3", "4"),
		descriptive("Explain A.", 10),
		descriptive("Explain B.", 10),
	}, func(e *Exam) { e.PassingMarks = 15 })
	q1, q2, q3 := e.Questions[0].ID, e.Questions[1].ID, e.Questions[2].ID

	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{
		q1: "4", q2: strings.Repeat("x", 30), q3: strings.Repeat("y", 60),
	}); err != nil {
		t.Fatal(err)
	}
	a, err = s.SubmitAttempt(ctx, a.ID, "stu1", false)
	if err != nil {
		t.Fatal(err)
	}

	// Partial grading moves submitted -> in_review and bumps the version.
	a, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{q2: "8"}, Version: 0, GraderID: "t1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AttemptInReview {
		t.Fatalf("after partial grading: %s, want in_review", a.Status)
	}
	if a.GradeVersion != 1 {
		t.Fatalf("grade version %d, want 1", a.GradeVersion)
	}

	// A stale version is refused, and the refused write leaves no trace:
	// its grade upserts roll back with the transaction.
	_, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{q3: "5"}, Version: 0, GraderID: "t1",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale version: want ErrConflict, got %v", err)
	}
	if gs, _ := s.ListGrades(ctx, a.ID); len(gs) != 1 {
		t.Fatalf("%d grade rows after conflicted write, want the 1 from before", len(gs))
	}
	if cur, _ := s.GetAttempt(ctx, a.ID); cur.GradeVersion != 1 {
		t.Fatalf("grade version %d after conflicted write, want 1", cur.GradeVersion)
	}

	// Only the exam owner may grade.
	_, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{q3: "5"}, Version: 1, GraderID: "t2",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign grader: want ErrForbidden, got %v", err)
	}

	// Completing the set writes the result and lands on graded.
	a, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{q1: "10", q3: "5"}, Feedback: "decent", Version: 1, GraderID: "t1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AttemptGraded {
		t.Fatalf("after full grading: %s, want graded", a.Status)
	}
	res, err := s.GetResult(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 23 || res.TotalMarks != 30 || res.Percentage != 77 {
		t.Fatalf("result %+v", res)
	}
	if !res.Passed {
		t.Fatal("23 >= passing 15 must pass")
	}
	if res.Feedback != "decent" || res.GradedBy != "t1" {
		t.Fatalf("result meta %+v", res)
	}

	// Re-grading replaces: same row counts, updated values.
	a, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{q3: "2"}, Version: a.GradeVersion, GraderID: "t1",
	})
	if err != nil {
		t.Fatal(err)
	}
	grades, _ := s.ListGrades(ctx, a.ID)
	if len(grades) != 3 {
		t.Fatalf("%d grade rows after regrade, want 3", len(grades))
	}
	res, _ = s.GetResult(ctx, a.ID)
	if res.Score != 20 {
		t.Fatalf("regraded score %.1f, want 20", res.Score)
	}
}

func TestApplyGradesClampsAndTolerates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{
		descriptive("A", 10),
		descriptive("B", 10),
	}, nil)
	q1, q2 := e.Questions[0].ID, e.Questions[1].ID

	a, _ := s.StartAttempt(ctx, e.ID, "stu1")
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{
		q1: strings.Repeat("x", 30), q2: strings.Repeat("y", 30),
	}); err != nil {
		t.Fatal(err)
	}
	a, err := s.SubmitAttempt(ctx, a.ID, "stu1", false)
	if err != nil {
		t.Fatal(err)
	}
	a, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{q1: "999", q2: ""}, Version: 0, GraderID: "t1",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.GetResult(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 10 { // 999 clamps to 10, "" counts as 0
		t.Fatalf("score %.1f, want 10", res.Score)
	}

	// Scoring a question outside the snapshot is a validation error.
	_, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{"nope": "5"}, Version: a.GradeVersion, GraderID: "t1",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown question: want ErrValidation, got %v", err)
	}
}

func TestSnapshotShieldsGradingFromBankEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{descriptive("Explain.", 10)}, nil)
	qid := e.Questions[0].ID

	a, _ := s.StartAttempt(ctx, e.ID, "stu1")
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{qid: strings.Repeat("x", 30)}); err != nil {
		t.Fatal(err)
	}
	a, err := s.SubmitAttempt(ctx, a.ID, "stu1", false)
	if err != nil {
		t.Fatal(err)
	}

	// Inflate the live question after submission; the snapshot must win.
	edited := e.Questions[0]
	edited.Points = 100
	if _, err := s.UpdateQuestion(ctx, edited, "t1"); err != nil {
		t.Fatal(err)
	}

	a, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{qid: "50"}, Version: 0, GraderID: "t1",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, _ := s.GetResult(ctx, a.ID)
	if res.Score != 10 || res.TotalMarks != 10 {
		t.Fatalf("result %+v, want score clamped to snapshot's 10/10", res)
	}
}

func TestForcedSubmitAfterDeadline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{
		mcq("q1?", "a", 10, "a", "b"),
		mcq("q2?", "a", 10, "a", "b"),
		mcq("q3?", "a", 10, "a", "b"),
	}, func(e *Exam) {
		e.IsTimed = true
		e.DurationMinutes = 10
	})
	a, err := s.StartAttempt(ctx, e.ID, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnswers(ctx, a.ID, "stu1", map[string]string{
		e.Questions[0].ID: "a", e.Questions[1].ID: "b",
	}); err != nil {
		t.Fatal(err)
	}

	// One hour past the deadline.
	s.now = func() time.Time { return time.Unix(*a.Deadline+3600, 0) }

	ids, err := s.ExpiredAttemptIDs(ctx, s.now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Fatalf("expired ids %v, want [%s]", ids, a.ID)
	}

	if err := s.ForceSubmit(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	a, err = s.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AttemptGraded {
		t.Fatalf("status %s, want graded (pure mcq)", a.Status)
	}
	if a.AutoScore != 10 { // one correct, one wrong, one unanswered
		t.Fatalf("auto score %.1f, want 10", a.AutoScore)
	}
	// Time taken is capped at the exam's duration, not wall-clock overrun.
	if a.TimeTakenSec != 10*60 {
		t.Fatalf("time taken %d, want %d", a.TimeTakenSec, 10*60)
	}

	// Sweeping again finds nothing.
	ids, err = s.ExpiredAttemptIDs(ctx, s.now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expired ids after sweep: %v", ids)
	}
}

func TestCloseAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, nil)

	a, _ := s.StartAttempt(ctx, e.ID, "stu1")
	a, err := s.SubmitAttempt(ctx, a.ID, "stu1", false) // auto-grades
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.CloseAttempt(ctx, a.ID, "t2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner close: want ErrForbidden, got %v", err)
	}
	a, err = s.CloseAttempt(ctx, a.ID, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AttemptClosed {
		t.Fatalf("status %s, want closed", a.Status)
	}

	// The close lands in the event log with the status change.
	events, err := s.events.Since(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	closed := 0
	for _, ev := range events {
		if ev.Type == notify.TypeAttemptClosed && ev.Key == a.ID {
			closed++
		}
	}
	if closed != 1 {
		t.Fatalf("%d close events, want 1", closed)
	}

	// Closed attempts are immutable for grading.
	_, err = s.ApplyGrades(ctx, a.ID, ApplyGradesInput{
		Scores: map[string]string{e.Questions[0].ID: "1"}, Version: a.GradeVersion, GraderID: "t1",
	})
	if !errors.Is(err, ErrState) {
		t.Fatalf("grading closed attempt: want ErrState, got %v", err)
	}
}

func TestListExamsScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, func(e *Exam) { e.Title = "Published one" })
	if _, err := s.CreateExam(ctx, Exam{Title: "t1 draft", CreatedBy: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateExam(ctx, Exam{Title: "t2 draft", CreatedBy: "t2"}); err != nil {
		t.Fatal(err)
	}

	asStudent, err := s.ListExams(ctx, ListOpts{ViewerRole: "student", ViewerID: "stu1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(asStudent) != 1 || asStudent[0].Status != ExamPublished {
		t.Fatalf("student sees %d exams: %+v", len(asStudent), asStudent)
	}

	asT1, err := s.ListExams(ctx, ListOpts{ViewerRole: "teacher", ViewerID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(asT1) != 2 { // own draft + published
		t.Fatalf("t1 sees %d exams, want 2", len(asT1))
	}

	asAdmin, err := s.ListExams(ctx, ListOpts{ViewerRole: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(asAdmin) != 3 {
		t.Fatalf("admin sees %d exams, want 3", len(asAdmin))
	}
}

func TestArchiveEndedExams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).Unix()
	ended := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, func(e *Exam) {
		e.AutoClose = true
		e.EndTime = &past
	})
	open := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, func(e *Exam) {
		e.Title = "Still open"
		e.AutoClose = true
	})

	n, err := s.ArchiveEndedExams(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("archived %d exams, want 1", n)
	}
	got, _ := s.GetExam(ctx, ended.ID, false)
	if got.Status != ExamArchived {
		t.Fatalf("ended exam status %s, want archived", got.Status)
	}
	got, _ = s.GetExam(ctx, open.ID, false)
	if got.Status != ExamPublished {
		t.Fatalf("open exam status %s, want published", got.Status)
	}
}

func TestEventLogRecordsLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := seedExam(t, s, "t1", []Question{mcq("q?", "a", 5, "a", "b")}, nil)

	a, _ := s.StartAttempt(ctx, e.ID, "stu1")
	if _, err := s.SubmitAttempt(ctx, a.ID, "stu1", false); err != nil {
		t.Fatal(err)
	}

	events, err := s.events.Since(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, ev := range events {
		if ev.Key != a.ID {
			t.Fatalf("event key %s, want %s", ev.Key, a.ID)
		}
		types[ev.Type] = true
	}
	for _, want := range []string{notify.TypeAttemptSubmitted, notify.TypeAttemptGraded, notify.TypeResultUpserted} {
		if !types[want] {
			t.Fatalf("missing %s event; got %v", want, types)
		}
	}
}
