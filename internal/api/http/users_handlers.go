package http

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusworks/examportal/internal/exam"
)

type userRow struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Role        string `json:"role"` // usually "student"
	DisplayName string `json:"display_name"`
	Password    string `json:"password,omitempty"` // plaintext, hashed before storage
}

// POST /users/bulk
//
// Accepts either a raw JSON array of users or a multipart file= upload
// (CSV or JSON, sniffed by the first byte). Existing users are updated,
// new ones inserted; a new user without a password is rejected.
func BulkUpsertUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []userRow
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				writeErr(w, fmt.Errorf("%w: file required", exam.ErrValidation))
				return
			}
			defer f.Close()
			buf := make([]byte, 1)
			if _, err := f.Read(buf); err != nil {
				writeErr(w, fmt.Errorf("%w: empty file", exam.ErrValidation))
				return
			}
			if s, ok := f.(io.Seeker); ok {
				_, _ = s.Seek(0, io.SeekStart)
			}
			if buf[0] == '[' || buf[0] == '{' {
				if err := json.NewDecoder(f).Decode(&rows); err != nil {
					writeErr(w, fmt.Errorf("%w: bad json", exam.ErrValidation))
					return
				}
			} else {
				rs, err := parseUserCSV(f)
				if err != nil {
					writeErr(w, fmt.Errorf("%w: bad csv: %v", exam.ErrValidation, err))
					return
				}
				rows = rs
			}
		} else {
			if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
				writeErr(w, fmt.Errorf("%w: expected JSON array or multipart file", exam.ErrValidation))
				return
			}
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{"inserted": 0, "updated": 0})
			return
		}

		ins, upd, err := upsertUsers(r.Context(), db, rows)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"inserted": ins, "updated": upd})
	}
}

// GET /users?role=
func ListUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.URL.Query().Get("role")
		var rows *sql.Rows
		var err error
		if role == "" {
			rows, err = db.QueryContext(r.Context(),
				`SELECT id, username, role, display_name FROM users ORDER BY username`)
		} else {
			rows, err = db.QueryContext(r.Context(),
				`SELECT id, username, role, display_name FROM users WHERE role=$1 ORDER BY username`, role)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		defer rows.Close()
		out := []userRow{}
		for rows.Next() {
			var u userRow
			if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.DisplayName); err != nil {
				writeErr(w, err)
				return
			}
			out = append(out, u)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseUserCSV(r io.Reader) ([]userRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["username"]; !ok {
		return nil, errors.New("missing column: username")
	}
	pick := func(rec []string, col string) string {
		if i, ok := idx[col]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	var rows []userRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, userRow{
			ID:          pick(rec, "id"),
			Username:    pick(rec, "username"),
			Role:        strings.ToLower(pick(rec, "role")),
			DisplayName: pick(rec, "display_name"),
			Password:    pick(rec, "password"),
		})
	}
	return rows, nil
}

func upsertUsers(ctx context.Context, db *sql.DB, rows []userRow) (inserted, updated int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	now := time.Now().Unix()
	for _, u := range rows {
		u.Username = strings.TrimSpace(u.Username)
		if u.Username == "" {
			return inserted, updated, fmt.Errorf("%w: username required", exam.ErrValidation)
		}
		if u.Role == "" {
			u.Role = "student"
		}
		if u.Role != "student" && u.Role != "teacher" && u.Role != "admin" {
			return inserted, updated, fmt.Errorf("%w: invalid role %q", exam.ErrValidation, u.Role)
		}
		var phash string
		if u.Password != "" {
			b, e := bcrypt.GenerateFromPassword([]byte(u.Password), 12)
			if e != nil {
				return inserted, updated, e
			}
			phash = string(b)
		}

		var existingID string
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE id=$1 OR username=$2`, u.ID, u.Username).Scan(&existingID)
		switch {
		case err == nil:
			if phash != "" {
				_, err = tx.ExecContext(ctx,
					`UPDATE users SET username=$1, role=$2, display_name=$3, password_hash=$4 WHERE id=$5`,
					u.Username, u.Role, u.DisplayName, phash, existingID)
			} else {
				_, err = tx.ExecContext(ctx,
					`UPDATE users SET username=$1, role=$2, display_name=$3 WHERE id=$4`,
					u.Username, u.Role, u.DisplayName, existingID)
			}
			if err != nil {
				return inserted, updated, err
			}
			updated++
		case errors.Is(err, sql.ErrNoRows):
			if phash == "" {
				return inserted, updated, fmt.Errorf("%w: password required for new user %q", exam.ErrValidation, u.Username)
			}
			if u.ID == "" {
				u.ID = uuid.NewString()
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO users (id, username, password_hash, role, display_name, created_at)
				 VALUES ($1,$2,$3,$4,$5,$6)`,
				u.ID, u.Username, phash, u.Role, u.DisplayName, now)
			if err != nil {
				return inserted, updated, err
			}
			inserted++
		default:
			return inserted, updated, err
		}
	}
	return
}
