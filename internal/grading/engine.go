// Package grading holds the pure scoring rules of the assessment
// engine: one rule per question type, plus attempt-wide aggregation.
package grading

import (
	"fmt"
	"math"
)

// Question type names, shared with the store's wire format.
const (
	TypeMultipleChoice = "multiple_choice"
	TypeMatching       = "matching"
	TypeTrueFalse      = "true_false"
	TypeTextInput      = "text_input"
)

// Q is the minimal view of a question needed for scoring.
type Q struct {
	ID         string
	Type       string
	Points     int
	AnswerIDs  []string          // every answer id belonging to the question
	CorrectIDs []string          // multiple_choice / true_false
	MatchKeys  map[string]string // matching: answer id -> expected match key
}

// Response is the student's payload for one question.
type Response struct {
	Selected []string
	Matches  map[string]string
	Text     string
}

// Result is the outcome of scoring a single response.
type Result struct {
	Points      int
	NeedsManual bool // true when a teacher must review (text_input)
}

// BadResponseError marks a payload that references answer ids not
// belonging to the question. Callers must treat it as a hard input
// error, not score it as zero.
type BadResponseError struct {
	QuestionID string
	AnswerID   string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("answer %s does not belong to question %s", e.AnswerID, e.QuestionID)
}

// Evaluate scores one response against one question. Dispatch is an
// exhaustive switch over the closed set of question types; an unknown
// type is an error rather than a silent zero.
func Evaluate(q Q, r Response) (Result, error) {
	switch q.Type {
	case TypeMultipleChoice, TypeTrueFalse:
		return scoreChoice(q, r)
	case TypeMatching:
		return scoreMatching(q, r)
	case TypeTextInput:
		return Result{NeedsManual: true}, nil
	default:
		return Result{}, fmt.Errorf("no scoring rule for question type %q", q.Type)
	}
}

// scoreChoice awards full points iff the selected set equals the
// correct set. No partial credit: missing or extra selections score 0.
// A question without correct answers (rejected at authoring, but
// possible in pre-existing rows) never awards points.
func scoreChoice(q Q, r Response) (Result, error) {
	known := toSet(q.AnswerIDs)
	for _, id := range r.Selected {
		if _, ok := known[id]; !ok {
			return Result{}, &BadResponseError{QuestionID: q.ID, AnswerID: id}
		}
	}
	if len(q.CorrectIDs) > 0 && setEqual(toSet(r.Selected), toSet(q.CorrectIDs)) {
		return Result{Points: q.Points}, nil
	}
	return Result{}, nil
}

// scoreMatching awards points x correctPairs/totalPairs, rounded
// half-up. An empty submission scores 0.
func scoreMatching(q Q, r Response) (Result, error) {
	known := toSet(q.AnswerIDs)
	for id := range r.Matches {
		if _, ok := known[id]; !ok {
			return Result{}, &BadResponseError{QuestionID: q.ID, AnswerID: id}
		}
	}
	pairs := len(q.MatchKeys)
	if pairs == 0 || len(r.Matches) == 0 {
		return Result{}, nil
	}
	correct := 0
	for id, want := range q.MatchKeys {
		if got, ok := r.Matches[id]; ok && got == want {
			correct++
		}
	}
	pts := roundHalfUp(float64(q.Points) * float64(correct) / float64(pairs))
	return Result{Points: pts}, nil
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
