package assessment

import (
	"sort"
	"time"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionMatching       QuestionType = "matching"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionTextInput      QuestionType = "text_input"
)

type Difficulty string

const (
	DifficultyLow    Difficulty = "LOW"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHigh   Difficulty = "HIGH"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptExpired    AttemptStatus = "expired"
	AttemptGraded     AttemptStatus = "graded"
)

// GraderAuto is recorded as the grader of evaluator-produced grades.
const GraderAuto = "auto"

type Answer struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"` // multiple_choice / true_false
	MatchKey  string `json:"match_key,omitempty"`  // matching only
}

type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Points  int          `json:"points"`
	Order   int          `json:"order"`
	Answers []Answer     `json:"answers,omitempty"`
}

type Test struct {
	ID               string       `json:"id"`
	CourseID         string       `json:"course_id"`
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	MaxScore         int          `json:"max_score"`
	TimeLimitMinutes int          `json:"time_limit_minutes,omitempty"` // 0 = untimed
	AutoGrade        bool         `json:"auto_grade"`
	Difficulty       Difficulty   `json:"difficulty"`
	Questions        []Question   `json:"questions,omitempty"`
	CreatedAt        int64        `json:"created_at,omitempty"`
}

// SortedQuestions returns the questions in display order. The sort is
// stable, so questions sharing an order value keep insertion order.
func (t *Test) SortedQuestions() []Question {
	out := make([]Question, len(t.Questions))
	copy(out, t.Questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (t *Test) question(id string) *Question {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i]
		}
	}
	return nil
}

// Response is a student's submitted payload for one question. Which
// field is meaningful depends on the question type: Selected for
// multiple_choice/true_false, Matches (answer id -> chosen match key)
// for matching, Text for text_input.
type Response struct {
	Selected []string          `json:"selected,omitempty"`
	Matches  map[string]string `json:"matches,omitempty"`
	Text     string            `json:"text,omitempty"`
}

type AttemptAnswer struct {
	QuestionID        string   `json:"question_id"`
	Response          Response `json:"response"`
	PointsAwarded     *int     `json:"points_awarded,omitempty"` // nil until scored, stays nil for text_input
	NeedsManualReview bool     `json:"needs_manual_review,omitempty"`
}

type Attempt struct {
	ID          string                   `json:"id"`
	TestID      string                   `json:"test_id"`
	UserID      string                   `json:"user_id"`
	Status      AttemptStatus            `json:"status"`
	Score       int                      `json:"score"`
	MaxScore    int                      `json:"max_score"` // copied from the test at start
	NeedsReview bool                     `json:"needs_review,omitempty"`
	Answers     map[string]AttemptAnswer `json:"answers"` // question id -> answer
	StartedAt   int64                    `json:"started_at"`
	ExpiresAt   int64                    `json:"expires_at,omitempty"` // 0 = untimed
	SubmittedAt int64                    `json:"submitted_at,omitempty"`
}

// TimedOut reports whether the attempt's deadline has passed.
func (a *Attempt) TimedOut(now time.Time) bool {
	return a.ExpiresAt > 0 && now.Unix() > a.ExpiresAt
}

// EffectiveStatus derives the status a reader should observe: an
// in-progress attempt past its deadline is expired even before a
// write-path operation has persisted the transition.
func (a *Attempt) EffectiveStatus(now time.Time) AttemptStatus {
	if a.Status == AttemptInProgress && a.TimedOut(now) {
		return AttemptExpired
	}
	return a.Status
}

type Grade struct {
	AttemptID string `json:"attempt_id"`
	Score     int    `json:"score"`
	MaxScore  int    `json:"max_score"`
	Feedback  string `json:"feedback,omitempty"`
	GraderID  string `json:"grader_id"`
	GradedAt  int64  `json:"graded_at"`
}

type Comment struct {
	ID        string `json:"id"`
	TargetID  string `json:"target_id"` // attempt or submission id
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"` // equals CreatedAt until edited
}
