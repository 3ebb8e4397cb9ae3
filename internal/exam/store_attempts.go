package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusworks/examportal/internal/grading"
	"github.com/campusworks/examportal/internal/notify"
)

// StartAttempt begins (or resumes) the student's attempt on a published
// exam. Starting is rejected when the exam is not published, outside its
// window, has no questions, or carries zero total marks.
func (s *SQLStore) StartAttempt(ctx context.Context, examID, studentID string) (Attempt, error) {
	e, err := s.GetExam(ctx, examID, true)
	if err != nil {
		return Attempt{}, err
	}
	now := s.now()
	if e.Status != ExamPublished {
		return Attempt{}, fmt.Errorf("%w: exam is %s, not published", ErrState, e.Status)
	}
	if !e.WindowOpen(now) {
		return Attempt{}, fmt.Errorf("%w: exam window is not open", ErrState)
	}
	if len(e.Questions) == 0 {
		return Attempt{}, fmt.Errorf("%w: exam has no questions", ErrConfig)
	}
	if e.TotalMarks <= 0 {
		return Attempt{}, fmt.Errorf("%w: exam total marks is zero", ErrConfig)
	}

	// One attempt per (exam, student): resume an open draft, refuse a retake.
	if prev, err := s.latestAttempt(ctx, examID, studentID); err == nil {
		if prev.Status == AttemptDraft {
			return prev, nil
		}
		return Attempt{}, fmt.Errorf("%w: exam already attempted", ErrConflict)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, err
	}

	a := Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    AttemptDraft,
		Answers:   map[string]string{},
		StartedAt: now.Unix(),
	}
	if e.IsTimed && e.DurationMinutes > 0 {
		dl := now.Unix() + int64(e.DurationMinutes)*60
		a.Deadline = &dl
	}
	aj, _ := json.Marshal(a.Answers)
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,exam_id,student_id,status,answers_json,started_at,deadline)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ExamID, a.StudentID, string(a.Status), string(aj), a.StartedAt, nullableInt(a.Deadline))
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (s *SQLStore) latestAttempt(ctx context.Context, examID, studentID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, attemptSelect+`
		WHERE exam_id=$1 AND student_id=$2 ORDER BY started_at DESC LIMIT 1`, examID, studentID)
	return scanAttempt(row)
}

// SaveAnswers merges the student's in-progress answers. Only the owner of a
// draft attempt may write, and not past the deadline.
func (s *SQLStore) SaveAnswers(ctx context.Context, attemptID, studentID string, answers map[string]string) (Attempt, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.StudentID != studentID {
		return Attempt{}, fmt.Errorf("%w: not your attempt", ErrForbidden)
	}
	if a.Status != AttemptDraft {
		return Attempt{}, fmt.Errorf("%w: attempt already submitted", ErrState)
	}
	if a.Deadline != nil && s.now().Unix() > *a.Deadline {
		return Attempt{}, ErrDeadline
	}
	if a.Answers == nil {
		a.Answers = map[string]string{}
	}
	for k, v := range answers {
		a.Answers[k] = v
	}
	aj, _ := json.Marshal(a.Answers)
	_, err = s.db.ExecContext(ctx, `UPDATE attempts SET answers_json=$1 WHERE id=$2`, string(aj), attemptID)
	if err != nil {
		return Attempt{}, err
	}
	a.Answers = decodeAnswers(string(aj))
	return a, nil
}

// SubmitAttempt is the single submission path for both the student's manual
// submit and the sweeper's deadline-forced submit. It freezes the answer
// map, snapshots the exam's questions into the attempt, stamps time taken,
// auto-grades, and advances status. Submitting an already-submitted attempt
// is a no-op returning the current state, so a forced submit racing a manual
// one resolves to exactly one submission.
func (s *SQLStore) SubmitAttempt(ctx context.Context, attemptID, actorID string, forced bool) (Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, attemptSelect+` WHERE id=$1`, attemptID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("%w: attempt %s", ErrNotFound, attemptID)
	}
	if err != nil {
		return Attempt{}, err
	}
	if !forced && a.StudentID != actorID {
		return Attempt{}, fmt.Errorf("%w: not your attempt", ErrForbidden)
	}
	if a.Status != AttemptDraft {
		return a, nil
	}

	e, err := s.GetExam(ctx, a.ExamID, true)
	if err != nil {
		return Attempt{}, err
	}

	now := s.now()
	elapsed := now.Unix() - a.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	if e.IsTimed && e.DurationMinutes > 0 {
		if max := int64(e.DurationMinutes) * 60; elapsed > max {
			elapsed = max
		}
	}

	sum, err := s.grader.Summarize(gradingView(e.Questions), a.Answers)
	if err != nil {
		if errors.Is(err, grading.ErrZeroMax) {
			return Attempt{}, fmt.Errorf("%w: exam has zero total marks", ErrConfig)
		}
		return Attempt{}, err
	}

	a.Questions = e.Questions // content snapshot, frozen for grading
	a.AutoScore = sum.Score
	a.TimeTakenSec = int(elapsed)
	ts := now.Unix()
	a.SubmittedAt = &ts
	a.Status = AttemptSubmitted

	// A pure-objective exam needs no teacher: write grades and the result
	// now, in the same transaction, and land directly on graded.
	finalize := !sum.NeedsManual

	qj, _ := json.Marshal(a.Questions)
	aj, _ := json.Marshal(a.Answers)
	if finalize {
		a.Status = AttemptGraded
		a.GradeVersion++
	}
	// Guard the write on status=draft so a forced submit racing a manual one
	// resolves to exactly one winner even under read-committed, where both
	// transactions can pass the status check above. The loser affects zero
	// rows and returns the winner's state without duplicating grades or
	// events.
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET
		status=$1, answers_json=$2, questions_json=$3, auto_score=$4, time_taken_sec=$5, submitted_at=$6, grade_version=$7
		WHERE id=$8 AND status=$9`,
		string(a.Status), string(aj), string(qj), a.AutoScore, a.TimeTakenSec, ts, a.GradeVersion, a.ID, string(AttemptDraft))
	if err != nil {
		return Attempt{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return s.GetAttempt(ctx, a.ID)
	}

	events := []notify.Event{{Type: notify.TypeAttemptSubmitted, Key: a.ID, DataJSON: mustJSON(map[string]any{
		"exam_id": a.ExamID, "student_id": a.StudentID, "forced": forced,
	})}}

	if finalize {
		for _, q := range e.Questions {
			ans, ok := a.Answers[q.ID]
			out := s.grader.Grade(GradingQ(q), ans, ok && ans != "")
			if err := upsertGrade(ctx, tx, Grade{
				AttemptID:  a.ID,
				QuestionID: q.ID,
				Score:      out.Points,
				MaxScore:   out.MaxPoints,
				GraderID:   autoGrader,
				GradedAt:   ts,
			}); err != nil {
				return Attempt{}, err
			}
		}
		res, err := buildResult(e, a, sum.Score)
		if err != nil {
			return Attempt{}, err
		}
		res.GradedBy = autoGrader
		res.GradedAt = ts
		if err := upsertResult(ctx, tx, res); err != nil {
			return Attempt{}, err
		}
		events = append(events,
			notify.Event{Type: notify.TypeAttemptGraded, Key: a.ID, DataJSON: mustJSON(map[string]any{"score": res.Score})},
			notify.Event{Type: notify.TypeResultUpserted, Key: a.ID, DataJSON: mustJSON(res)},
		)
	}

	for _, ev := range events {
		if err := s.events.Append(ctx, tx, ev); err != nil {
			return Attempt{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	s.publish(events)
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, attemptSelect+` WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("%w: attempt %s", ErrNotFound, id)
	}
	return a, err
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	limit, offset := pageBounds(opts.Limit, opts.Offset)

	where := []string{"1=1"}
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		where = append(where, fmt.Sprintf(cond, n))
		args = append(args, v)
	}
	if opts.ExamID != "" {
		add("exam_id = $%d", opts.ExamID)
	}
	if opts.StudentID != "" {
		add("student_id = $%d", opts.StudentID)
	}
	if opts.Status != "" {
		add("status = $%d", string(opts.Status))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(attemptSelect+` WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CloseAttempt is the terminal transition, available to the exam owner once
// grading is complete.
func (s *SQLStore) CloseAttempt(ctx context.Context, attemptID, actorID string) (Attempt, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	e, err := s.GetExam(ctx, a.ExamID, false)
	if err != nil {
		return Attempt{}, err
	}
	if actorID != "" && e.CreatedBy != actorID {
		return Attempt{}, fmt.Errorf("%w: not the exam owner", ErrForbidden)
	}
	if a.Status != AttemptGraded {
		return Attempt{}, fmt.Errorf("%w: only graded attempts can be closed (is %s)", ErrState, a.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET status=$1 WHERE id=$2 AND status=$3`,
		string(AttemptClosed), attemptID, string(AttemptGraded))
	if err != nil {
		return Attempt{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Attempt{}, fmt.Errorf("%w: attempt is no longer graded", ErrState)
	}
	ev := notify.Event{Type: notify.TypeAttemptClosed, Key: a.ID, DataJSON: "{}"}
	if err := s.events.Append(ctx, tx, ev); err != nil {
		return Attempt{}, err
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptClosed
	s.publish([]notify.Event{ev})
	return a, nil
}

// ForceSubmit is the sweeper's entry point for deadline-driven submission.
func (s *SQLStore) ForceSubmit(ctx context.Context, attemptID string) error {
	_, err := s.SubmitAttempt(ctx, attemptID, "", true)
	return err
}

func (s *SQLStore) ExpiredAttemptIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM attempts
		WHERE status=$1 AND deadline IS NOT NULL AND deadline < $2`,
		string(AttemptDraft), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- helpers ----

const autoGrader = "auto"

const attemptSelect = `SELECT id,exam_id,student_id,status,answers_json,questions_json,auto_score,time_taken_sec,started_at,submitted_at,deadline,grade_version FROM attempts`

func scanAttempt(r rowScanner) (Attempt, error) {
	var a Attempt
	var status, aj string
	var qj sql.NullString
	var submitted, deadline sql.NullInt64
	if err := r.Scan(&a.ID, &a.ExamID, &a.StudentID, &status, &aj, &qj, &a.AutoScore,
		&a.TimeTakenSec, &a.StartedAt, &submitted, &deadline, &a.GradeVersion); err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptStatus(status)
	a.Answers = decodeAnswers(aj)
	if qj.Valid && qj.String != "" {
		_ = json.Unmarshal([]byte(qj.String), &a.Questions)
	}
	if submitted.Valid {
		v := submitted.Int64
		a.SubmittedAt = &v
	}
	if deadline.Valid {
		v := deadline.Int64
		a.Deadline = &v
	}
	return a, nil
}

func decodeAnswers(s string) map[string]string {
	m := map[string]string{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func GradingQ(q Question) grading.Q {
	return grading.Q{ID: q.ID, Type: string(q.Type), CorrectAnswer: q.CorrectAnswer, Points: q.Points}
}

func gradingView(qs []Question) []grading.Q {
	out := make([]grading.Q, len(qs))
	for i, q := range qs {
		out[i] = GradingQ(q)
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *SQLStore) publish(events []notify.Event) {
	if s.hub == nil {
		return
	}
	for _, ev := range events {
		s.hub.Publish(ev)
	}
}
