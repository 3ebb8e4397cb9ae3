package notify

import (
	"context"
	"database/sql"
	"time"
)

// Event types appended by the exam store.
const (
	TypeAttemptSubmitted = "AttemptSubmitted"
	TypeAttemptGraded    = "AttemptGraded"
	TypeAttemptClosed    = "AttemptClosed"
	TypeResultUpserted   = "ResultUpserted"
)

type Event struct {
	Offset    int64  `json:"offset"`
	Type      string `json:"type"`
	Key       string `json:"key"` // natural key: attempt ID
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

// Execer is satisfied by *sql.DB and *sql.Tx, so appends can join the
// transaction that produced the change.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Log struct{ db *sql.DB }

func NewLog(db *sql.DB) *Log { return &Log{db: db} }

func (l *Log) Append(ctx context.Context, ex Execer, e Event) error {
	if ex == nil {
		ex = l.db
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		e.Type, e.Key, e.DataJSON, time.Now().Unix())
	return err
}

// Since returns events after the given offset, oldest first, for pollers.
func (l *Log) Since(ctx context.Context, offset int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT "offset", typ, key, data, created_at FROM event_log
		 WHERE "offset" > $1 ORDER BY "offset" ASC LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Offset, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
