package http

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/exam"
)

type updateUserRoleReq struct {
	Role string `json:"role" validate:"required,oneof=student teacher admin"`
}

// PUT /users/{userID}/role  — userID may be an id or a username.
func AdminUpdateUserRoleHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "userID")
		var req updateUserRoleReq
		if err := decodeValid(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		role := strings.ToLower(strings.TrimSpace(req.Role))

		var id, curRole string
		err := db.QueryRowContext(r.Context(),
			`SELECT id, role FROM users WHERE id=$1 OR username=$1`, target).Scan(&id, &curRole)
		if errors.Is(err, sql.ErrNoRows) {
			writeErr(w, exam.ErrNotFound)
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		// Guard against demoting the last admin.
		if curRole == "admin" && role != "admin" {
			var adminCount int
			if err := db.QueryRowContext(r.Context(),
				`SELECT COUNT(1) FROM users WHERE role='admin'`).Scan(&adminCount); err != nil {
				writeErr(w, err)
				return
			}
			if adminCount <= 1 {
				writeErr(w, fmt.Errorf("%w: cannot demote the last admin", exam.ErrValidation))
				return
			}
		}

		if _, err := db.ExecContext(r.Context(),
			`UPDATE users SET role=$1 WHERE id=$2`, role, id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
