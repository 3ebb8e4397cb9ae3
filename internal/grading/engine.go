package grading

import (
	"fmt"
	"math"
)

// Q is the minimal view of a question needed for grading. Keep in sync with
// the fields the exam store snapshots.
type Q struct {
	ID            string
	Type          string // "mcq" | "descriptive"
	CorrectAnswer string
	Points        int
}

type Verdict string

const (
	VerdictCorrect    Verdict = "correct"
	VerdictPartial    Verdict = "partial"
	VerdictIncorrect  Verdict = "incorrect"
	VerdictUnanswered Verdict = "unanswered"
)

// Outcome is the result of auto-grading a single question response.
type Outcome struct {
	Points    float64
	MaxPoints float64
	Verdict   Verdict
	// Provisional marks a heuristic score that must be superseded by any
	// manual grade a teacher records.
	Provisional bool
}

// Strategy grades a single question.
type Strategy interface {
	Grade(q Q, answer string, answered bool) Outcome
}

// Grader routes by question type to the matching Strategy.
type Grader struct {
	strategies map[string]Strategy
}

// NewGrader installs the built-in strategies.
func NewGrader() *Grader {
	return &Grader{strategies: map[string]Strategy{
		"mcq":         mcqStrategy{},
		"descriptive": descriptiveStrategy{},
	}}
}

func (g *Grader) Grade(q Q, answer string, answered bool) Outcome {
	if !answered {
		return Outcome{MaxPoints: float64(q.Points), Verdict: VerdictUnanswered}
	}
	s, ok := g.strategies[q.Type]
	if !ok {
		// Unknown type: nothing to award automatically, leave for a teacher.
		return Outcome{MaxPoints: float64(q.Points), Verdict: VerdictUnanswered, Provisional: true}
	}
	return s.Grade(q, answer, answered)
}

// mcqStrategy awards all-or-nothing: full points iff the answer equals the
// designated option under Normalize, never a fraction.
type mcqStrategy struct{}

func (mcqStrategy) Grade(q Q, answer string, _ bool) Outcome {
	out := Outcome{MaxPoints: float64(q.Points)}
	if Normalize(answer) == Normalize(q.CorrectAnswer) && q.CorrectAnswer != "" {
		out.Points = float64(q.Points)
		out.Verdict = VerdictCorrect
		return out
	}
	out.Verdict = VerdictIncorrect
	return out
}

// descriptiveStrategy applies the provisional length heuristic used before a
// teacher grades: 75% of points past 50 characters, 50% past 20, else zero.
type descriptiveStrategy struct{}

func (descriptiveStrategy) Grade(q Q, answer string, _ bool) Outcome {
	out := Outcome{MaxPoints: float64(q.Points), Provisional: true}
	n := len([]rune(answer))
	switch {
	case n > 50:
		out.Points = math.Floor(float64(q.Points) * 0.75)
	case n > 20:
		out.Points = math.Floor(float64(q.Points) * 0.50)
	}
	switch {
	case out.Points == 0:
		out.Verdict = VerdictIncorrect
	case out.Points >= out.MaxPoints:
		out.Verdict = VerdictCorrect
	default:
		out.Verdict = VerdictPartial
	}
	return out
}

// Summary aggregates per-question outcomes into an attempt-level score.
// Unanswered is its own bucket: Total = Correct + Incorrect + Unanswered
// (partial counts under Incorrect for the tally, not under Correct).
type Summary struct {
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	Percentage int     `json:"percentage"`
	Total      int     `json:"total"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Unanswered int     `json:"unanswered"`
	// NeedsManual is true when any outcome was provisional.
	NeedsManual bool `json:"needs_manual"`
}

// Summarize auto-grades every question against the answer map. A question is
// answered only if its answer is a non-empty string. Fails with ErrZeroMax
// when the question set carries no points at all.
func (g *Grader) Summarize(qs []Q, answers map[string]string) (Summary, error) {
	var sum Summary
	sum.Total = len(qs)
	for _, q := range qs {
		sum.MaxScore += float64(q.Points)
	}
	if sum.MaxScore <= 0 {
		return Summary{}, fmt.Errorf("%w: question set has zero total marks", ErrZeroMax)
	}
	for _, q := range qs {
		ans, ok := answers[q.ID]
		answered := ok && ans != ""
		out := g.Grade(q, ans, answered)
		sum.Score += out.Points
		if out.Provisional {
			sum.NeedsManual = true
		}
		switch out.Verdict {
		case VerdictCorrect:
			sum.Correct++
		case VerdictUnanswered:
			sum.Unanswered++
		default:
			sum.Incorrect++
		}
	}
	pct, err := Percentage(sum.Score, sum.MaxScore)
	if err != nil {
		return Summary{}, err
	}
	sum.Percentage = pct
	return sum, nil
}
