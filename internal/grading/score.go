package grading

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrZeroMax flags a question set or exam whose maximum score is zero;
// percentage over it is undefined and must be rejected, never NaN.
var ErrZeroMax = errors.New("zero max score")

// Percentage returns round(score/max*100).
func Percentage(score, max float64) (int, error) {
	if max <= 0 {
		return 0, ErrZeroMax
	}
	return int(math.Round(score / max * 100)), nil
}

// ParseScore converts a raw numeric string from a grading form into a score
// clamped to [0, max]. Empty or in-progress input counts as 0 without being
// an error, as does anything non-finite.
func ParseScore(raw string, max float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return Clamp(v, max)
}

// Clamp bounds a score to [0, max].
func Clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Normalize is the single canonical comparison rule for MCQ answers:
// casefold, trim, and collapse runs of whitespace. Submission, grading and
// review must all compare through it.
func Normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && len(out) > 0 {
			out = append(out, ' ')
		}
		space = false
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}
