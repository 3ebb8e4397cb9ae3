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

// SQLStore implements Store over database/sql (sqlite or postgres).
// Change events are appended to the event log inside the same transaction
// as the mutation and published to the hub after commit.
type SQLStore struct {
	db     *sql.DB
	events *notify.Log
	hub    *notify.Hub
	grader *grading.Grader
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, events *notify.Log, hub *notify.Hub) *SQLStore {
	return &SQLStore{
		db:     db,
		events: events,
		hub:    hub,
		grader: grading.NewGrader(),
		now:    time.Now,
	}
}

// ---- exams ----

func (s *SQLStore) CreateExam(ctx context.Context, e Exam) (Exam, error) {
	if strings.TrimSpace(e.Title) == "" {
		return Exam{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if e.DurationMinutes < 0 || e.TotalMarks < 0 || e.PassingMarks < 0 {
		return Exam{}, fmt.Errorf("%w: negative marks or duration", ErrValidation)
	}
	if e.PassingMarks > e.TotalMarks && e.TotalMarks > 0 {
		return Exam{}, fmt.Errorf("%w: passing marks exceed total marks", ErrValidation)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = ExamDraft
	e.CreatedAt = s.now().Unix()

	_, err := s.db.ExecContext(ctx, `INSERT INTO exams
		(id,title,subject,duration_min,total_marks,passing_marks,status,start_time,end_time,is_timed,auto_close,created_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.Title, e.Subject, e.DurationMinutes, e.TotalMarks, e.PassingMarks, string(e.Status),
		nullableInt(e.StartTime), nullableInt(e.EndTime), e.IsTimed, e.AutoClose, e.CreatedBy, e.CreatedAt)
	if err != nil {
		return Exam{}, err
	}
	return e, nil
}

func (s *SQLStore) UpdateExam(ctx context.Context, e Exam, actorID string) (Exam, error) {
	cur, err := s.GetExam(ctx, e.ID, false)
	if err != nil {
		return Exam{}, err
	}
	if actorID != "" && cur.CreatedBy != actorID {
		return Exam{}, fmt.Errorf("%w: not the exam owner", ErrForbidden)
	}
	if cur.Status == ExamArchived {
		return Exam{}, fmt.Errorf("%w: archived exam is read-only", ErrState)
	}
	if strings.TrimSpace(e.Title) == "" {
		return Exam{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if e.PassingMarks > e.TotalMarks && e.TotalMarks > 0 {
		return Exam{}, fmt.Errorf("%w: passing marks exceed total marks", ErrValidation)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE exams SET
		title=$1, subject=$2, duration_min=$3, total_marks=$4, passing_marks=$5,
		start_time=$6, end_time=$7, is_timed=$8, auto_close=$9
		WHERE id=$10`,
		e.Title, e.Subject, e.DurationMinutes, e.TotalMarks, e.PassingMarks,
		nullableInt(e.StartTime), nullableInt(e.EndTime), e.IsTimed, e.AutoClose, e.ID)
	if err != nil {
		return Exam{}, err
	}
	return s.GetExam(ctx, e.ID, false)
}

func (s *SQLStore) SetExamStatus(ctx context.Context, examID string, next ExamStatus, actorID string) (Exam, error) {
	e, err := s.GetExam(ctx, examID, true)
	if err != nil {
		return Exam{}, err
	}
	if actorID != "" && e.CreatedBy != actorID {
		return Exam{}, fmt.Errorf("%w: not the exam owner", ErrForbidden)
	}
	if !e.Status.CanAdvanceTo(next) {
		return Exam{}, fmt.Errorf("%w: %s -> %s", ErrState, e.Status, next)
	}
	if next == ExamPublished {
		if len(e.Questions) == 0 {
			return Exam{}, fmt.Errorf("%w: cannot publish an exam with no questions", ErrConfig)
		}
		sum := 0
		for _, q := range e.Questions {
			sum += q.Points
		}
		if e.TotalMarks == 0 {
			e.TotalMarks = sum
		}
		if e.TotalMarks <= 0 {
			return Exam{}, fmt.Errorf("%w: total marks is zero", ErrConfig)
		}
	}
	_, err = s.db.ExecContext(ctx, `UPDATE exams SET status=$1, total_marks=$2 WHERE id=$3`,
		string(next), e.TotalMarks, examID)
	if err != nil {
		return Exam{}, err
	}
	e.Status = next
	return e, nil
}

func (s *SQLStore) GetExam(ctx context.Context, id string, withQuestions bool) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id,title,subject,duration_min,total_marks,passing_marks,status,start_time,end_time,is_timed,auto_close,created_by,created_at
		FROM exams WHERE id=$1`, id)
	var e Exam
	var status string
	var start, end sql.NullInt64
	if err := row.Scan(&e.ID, &e.Title, &e.Subject, &e.DurationMinutes, &e.TotalMarks, &e.PassingMarks,
		&status, &start, &end, &e.IsTimed, &e.AutoClose, &e.CreatedBy, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, fmt.Errorf("%w: exam %s", ErrNotFound, id)
		}
		return Exam{}, err
	}
	e.Status = ExamStatus(status)
	if start.Valid {
		v := start.Int64
		e.StartTime = &v
	}
	if end.Valid {
		v := end.Int64
		e.EndTime = &v
	}
	if withQuestions {
		qs, err := s.examQuestions(ctx, id)
		if err != nil {
			return Exam{}, err
		}
		e.Questions = qs
	}
	return e, nil
}

func (s *SQLStore) examQuestions(ctx context.Context, examID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		q.id, q.qtype, q.qtext, q.options_json, q.correct_answer, q.points, q.created_by, q.created_at
		FROM exam_questions eq JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id=$1 ORDER BY eq.position ASC, q.id ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error) {
	limit, offset := pageBounds(opts.Limit, opts.Offset)

	where := []string{"1=1"}
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		where = append(where, fmt.Sprintf(cond, n))
		args = append(args, v)
	}
	if opts.Q != "" {
		add("title LIKE $%d", "%"+opts.Q+"%")
	}
	if opts.Subject != "" {
		add("subject = $%d", opts.Subject)
	}
	if opts.Status != "" {
		add("status = $%d", string(opts.Status))
	}
	// Students only ever see published exams; teachers see their own plus
	// anything published.
	switch opts.ViewerRole {
	case "student":
		add("status = $%d", string(ExamPublished))
	case "teacher":
		add("(created_by = $%d OR status = 'published')", opts.ViewerID)
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT e.id, e.title, e.subject, e.duration_min, e.total_marks, e.passing_marks, e.status,
		(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id) AS qcount,
		e.created_by, e.created_at
		FROM exams e WHERE %s ORDER BY e.created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), n+1, n+2)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExamSummary
	for rows.Next() {
		var es ExamSummary
		var status string
		if err := rows.Scan(&es.ID, &es.Title, &es.Subject, &es.DurationMinutes, &es.TotalMarks,
			&es.PassingMarks, &status, &es.QuestionCount, &es.CreatedBy, &es.CreatedAt); err != nil {
			return nil, err
		}
		es.Status = ExamStatus(status)
		out = append(out, es)
	}
	return out, rows.Err()
}

func (s *SQLStore) ArchiveEndedExams(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET status=$1
		WHERE status=$2 AND auto_close AND end_time IS NOT NULL AND end_time < $3`,
		string(ExamArchived), string(ExamPublished), now.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- questions ----

func (s *SQLStore) CreateQuestion(ctx context.Context, q Question) (Question, error) {
	if err := validateQuestion(q); err != nil {
		return Question{}, err
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = s.now().Unix()
	oj, err := json.Marshal(optionsOrEmpty(q.Options))
	if err != nil {
		return Question{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions
		(id,qtype,qtext,options_json,correct_answer,points,created_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.ID, string(q.Type), q.Text, string(oj), q.CorrectAnswer, q.Points, q.CreatedBy, q.CreatedAt)
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, q Question, actorID string) (Question, error) {
	cur, err := s.getQuestion(ctx, q.ID)
	if err != nil {
		return Question{}, err
	}
	if actorID != "" && cur.CreatedBy != actorID {
		return Question{}, fmt.Errorf("%w: not the question owner", ErrForbidden)
	}
	if err := validateQuestion(q); err != nil {
		return Question{}, err
	}
	oj, err := json.Marshal(optionsOrEmpty(q.Options))
	if err != nil {
		return Question{}, err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE questions SET
		qtype=$1, qtext=$2, options_json=$3, correct_answer=$4, points=$5 WHERE id=$6`,
		string(q.Type), q.Text, string(oj), q.CorrectAnswer, q.Points, q.ID)
	if err != nil {
		return Question{}, err
	}
	return s.getQuestion(ctx, q.ID)
}

func (s *SQLStore) DeleteQuestion(ctx context.Context, id, actorID string) error {
	cur, err := s.getQuestion(ctx, id)
	if err != nil {
		return err
	}
	if actorID != "" && cur.CreatedBy != actorID {
		return fmt.Errorf("%w: not the question owner", ErrForbidden)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, id)
	return err
}

func (s *SQLStore) getQuestion(ctx context.Context, id string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,qtype,qtext,options_json,correct_answer,points,created_by,created_at
		FROM questions WHERE id=$1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, fmt.Errorf("%w: question %s", ErrNotFound, id)
	}
	return q, err
}

func (s *SQLStore) ListQuestions(ctx context.Context, ownerID string, limit, offset int) ([]Question, error) {
	limit, offset = pageBounds(limit, offset)
	query := `SELECT id,qtype,qtext,options_json,correct_answer,points,created_by,created_at FROM questions`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE created_by=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, ownerID, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) AttachQuestion(ctx context.Context, examID, questionID string, position int, actorID string) error {
	e, err := s.GetExam(ctx, examID, false)
	if err != nil {
		return err
	}
	if actorID != "" && e.CreatedBy != actorID {
		return fmt.Errorf("%w: not the exam owner", ErrForbidden)
	}
	if e.Status == ExamArchived {
		return fmt.Errorf("%w: archived exam is read-only", ErrState)
	}
	if _, err := s.getQuestion(ctx, questionID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exam_questions (exam_id, question_id, position)
		VALUES ($1,$2,$3)
		ON CONFLICT (exam_id, question_id) DO UPDATE SET position=EXCLUDED.position`,
		examID, questionID, position)
	return err
}

func (s *SQLStore) DetachQuestion(ctx context.Context, examID, questionID, actorID string) error {
	e, err := s.GetExam(ctx, examID, false)
	if err != nil {
		return err
	}
	if actorID != "" && e.CreatedBy != actorID {
		return fmt.Errorf("%w: not the exam owner", ErrForbidden)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id=$1 AND question_id=$2`,
		examID, questionID)
	return err
}

// ---- shared helpers ----

type rowScanner interface{ Scan(dest ...any) error }

func scanQuestion(r rowScanner) (Question, error) {
	var q Question
	var typ, oj string
	if err := r.Scan(&q.ID, &typ, &q.Text, &oj, &q.CorrectAnswer, &q.Points, &q.CreatedBy, &q.CreatedAt); err != nil {
		return Question{}, err
	}
	q.Type = QuestionType(typ)
	if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
		q.Options = nil
	}
	return q, nil
}

func validateQuestion(q Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question text required", ErrValidation)
	}
	if q.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrValidation)
	}
	switch q.Type {
	case QuestionMCQ:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: mcq needs at least two options", ErrValidation)
		}
		found := false
		for _, o := range q.Options {
			if grading.Normalize(o) == grading.Normalize(q.CorrectAnswer) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: correct answer is not one of the options", ErrValidation)
		}
	case QuestionDescriptive:
		// no options, answer key optional (model answer for the grader)
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrValidation, q.Type)
	}
	return nil
}

func optionsOrEmpty(opts []string) []string {
	if opts == nil {
		return []string{}
	}
	return opts
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
