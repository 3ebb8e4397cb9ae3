package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/campusworks/examportal/internal/exam"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeErr maps domain sentinels onto HTTP statuses so data-access failures
// surface as user-facing messages instead of crashing the caller.
func writeErr(w http.ResponseWriter, err error) {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		fields := make(map[string]string, len(verr))
		for _, fe := range verr {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Fields: fields})
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exam.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exam.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, exam.ErrConfig):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, exam.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, exam.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, exam.ErrState), errors.Is(err, exam.ErrDeadline):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeValid decodes a JSON body into dst and runs struct-tag validation.
func decodeValid(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(exam.ErrValidation, err)
	}
	return validate.Struct(dst)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
