package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campusworks/examportal/internal/grading"
	"github.com/campusworks/examportal/internal/notify"
)

func (s *SQLStore) ListGrades(ctx context.Context, attemptID string) ([]Grade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id,question_id,score,max_score,grader_id,graded_at
		FROM grades WHERE attempt_id=$1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Grade
	for rows.Next() {
		var g Grade
		if err := rows.Scan(&g.AttemptID, &g.QuestionID, &g.Score, &g.MaxScore, &g.GraderID, &g.GradedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ApplyGrades records a teacher's per-question scores. Raw form values are
// parsed and clamped to [0, points] here so every caller shares the same
// tolerance rules. When the write leaves every question graded, the Result
// upsert and the advance to graded happen in the same transaction; the
// source system leaned on a database trigger for that transition, here it
// is explicit.
func (s *SQLStore) ApplyGrades(ctx context.Context, attemptID string, in ApplyGradesInput) (Attempt, error) {
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

	switch a.Status {
	case AttemptDraft:
		return Attempt{}, fmt.Errorf("%w: attempt not submitted yet", ErrState)
	case AttemptClosed:
		return Attempt{}, fmt.Errorf("%w: attempt is closed", ErrState)
	}

	e, err := s.GetExam(ctx, a.ExamID, false)
	if err != nil {
		return Attempt{}, err
	}
	if in.GraderID != "" && e.CreatedBy != in.GraderID {
		return Attempt{}, fmt.Errorf("%w: not the exam owner", ErrForbidden)
	}

	// Grade against the snapshot frozen at submission, never the live bank.
	questions := a.Questions
	if len(questions) == 0 {
		return Attempt{}, fmt.Errorf("%w: attempt has no question snapshot", ErrConfig)
	}
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	ts := s.now().Unix()
	for qid, raw := range in.Scores {
		q, ok := byID[qid]
		if !ok {
			return Attempt{}, fmt.Errorf("%w: question %s is not part of this attempt", ErrValidation, qid)
		}
		score := grading.ParseScore(raw, float64(q.Points))
		if err := upsertGrade(ctx, tx, Grade{
			AttemptID:  a.ID,
			QuestionID: qid,
			Score:      score,
			MaxScore:   float64(q.Points),
			GraderID:   in.GraderID,
			GradedAt:   ts,
		}); err != nil {
			return Attempt{}, err
		}
	}

	var graded int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grades WHERE attempt_id=$1`, a.ID).Scan(&graded); err != nil {
		return Attempt{}, err
	}

	var events []notify.Event
	if graded >= len(questions) {
		var total float64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(score),0) FROM grades WHERE attempt_id=$1`, a.ID).Scan(&total); err != nil {
			return Attempt{}, err
		}
		res, err := buildResult(e, a, total)
		if err != nil {
			return Attempt{}, err
		}
		res.Feedback = in.Feedback
		res.GradedBy = in.GraderID
		res.GradedAt = ts
		if err := upsertResult(ctx, tx, res); err != nil {
			return Attempt{}, err
		}
		if a.Status != AttemptGraded {
			a.Status = AttemptGraded
		}
		events = append(events,
			notify.Event{Type: notify.TypeAttemptGraded, Key: a.ID, DataJSON: mustJSON(map[string]any{"score": res.Score})},
			notify.Event{Type: notify.TypeResultUpserted, Key: a.ID, DataJSON: mustJSON(res)},
		)
	} else if a.Status == AttemptSubmitted {
		a.Status = AttemptInReview
	}

	// The version check is part of the write itself: under read-committed two
	// graders can both read the same version, so a plain compare-then-update
	// would let the second silently overwrite the first. Guarding the UPDATE
	// on the version the grader read makes the loser's write affect zero rows,
	// rolling back its grade upserts with the transaction.
	a.GradeVersion = in.Version + 1
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET status=$1, grade_version=$2 WHERE id=$3 AND grade_version=$4`,
		string(a.Status), a.GradeVersion, a.ID, in.Version)
	if err != nil {
		return Attempt{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Attempt{}, fmt.Errorf("%w: attempt was re-graded concurrently, reload and retry", ErrConflict)
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

func (s *SQLStore) GetResult(ctx context.Context, attemptID string) (Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT attempt_id,exam_id,student_id,score,total_marks,percentage,passed,feedback,graded_by,graded_at
		FROM results WHERE attempt_id=$1`, attemptID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("%w: result for attempt %s", ErrNotFound, attemptID)
	}
	return r, err
}

func (s *SQLStore) ListResults(ctx context.Context, examID, studentID string, limit, offset int) ([]Result, error) {
	limit, offset = pageBounds(limit, offset)

	where := "1=1"
	args := []any{}
	n := 0
	if examID != "" {
		n++
		where += fmt.Sprintf(" AND exam_id=$%d", n)
		args = append(args, examID)
	}
	if studentID != "" {
		n++
		where += fmt.Sprintf(" AND student_id=$%d", n)
		args = append(args, studentID)
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT attempt_id,exam_id,student_id,score,total_marks,percentage,passed,feedback,graded_by,graded_at
		FROM results WHERE %s ORDER BY graded_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- helpers ----

func upsertGrade(ctx context.Context, tx *sql.Tx, g Grade) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO grades (attempt_id,question_id,score,max_score,grader_id,graded_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		score=EXCLUDED.score, max_score=EXCLUDED.max_score, grader_id=EXCLUDED.grader_id, graded_at=EXCLUDED.graded_at`,
		g.AttemptID, g.QuestionID, g.Score, g.MaxScore, g.GraderID, g.GradedAt)
	return err
}

func upsertResult(ctx context.Context, tx *sql.Tx, r Result) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO results (attempt_id,exam_id,student_id,score,total_marks,percentage,passed,feedback,graded_by,graded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (attempt_id) DO UPDATE SET
		score=EXCLUDED.score, total_marks=EXCLUDED.total_marks, percentage=EXCLUDED.percentage,
		passed=EXCLUDED.passed, feedback=EXCLUDED.feedback, graded_by=EXCLUDED.graded_by, graded_at=EXCLUDED.graded_at`,
		r.AttemptID, r.ExamID, r.StudentID, r.Score, r.TotalMarks, r.Percentage, r.Passed, r.Feedback, r.GradedBy, r.GradedAt)
	return err
}

// buildResult derives the denormalized summary from a final total. Total
// marks come from the attempt's question snapshot so later edits to the exam
// cannot shift the denominator.
func buildResult(e Exam, a Attempt, total float64) (Result, error) {
	marks := 0
	for _, q := range a.Questions {
		marks += q.Points
	}
	if marks == 0 {
		marks = e.TotalMarks
	}
	pct, err := grading.Percentage(total, float64(marks))
	if err != nil {
		return Result{}, fmt.Errorf("%w: total marks is zero", ErrConfig)
	}
	return Result{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		StudentID:  a.StudentID,
		Score:      total,
		TotalMarks: marks,
		Percentage: pct,
		Passed:     total >= float64(e.PassingMarks),
	}, nil
}

func scanResult(r rowScanner) (Result, error) {
	var res Result
	var gradedAt sql.NullInt64
	if err := r.Scan(&res.AttemptID, &res.ExamID, &res.StudentID, &res.Score, &res.TotalMarks,
		&res.Percentage, &res.Passed, &res.Feedback, &res.GradedBy, &gradedAt); err != nil {
		return Result{}, err
	}
	if gradedAt.Valid {
		res.GradedAt = gradedAt.Int64
	}
	return res, nil
}
