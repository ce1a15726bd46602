package assessment

import "strings"

const (
	maxTitleLen = 200
	maxTextLen  = 1000 // description, prompt, feedback, comment content
)

func validateTest(t *Test) error {
	title := strings.TrimSpace(t.Title)
	if title == "" || len(title) > maxTitleLen {
		return invalidf("title", "must be 1-%d characters", maxTitleLen)
	}
	if len(t.Description) > maxTextLen {
		return invalidf("description", "must be at most %d characters", maxTextLen)
	}
	if t.CourseID == "" {
		return invalidf("course_id", "required")
	}
	if t.MaxScore < 1 {
		return invalidf("max_score", "must be at least 1")
	}
	if t.TimeLimitMinutes < 0 {
		return invalidf("time_limit_minutes", "must be at least 1 when set")
	}
	switch t.Difficulty {
	case DifficultyLow, DifficultyMedium, DifficultyHigh:
	default:
		return invalidf("difficulty", "must be one of LOW, MEDIUM, HIGH")
	}
	return nil
}

// QuestionInput is the authoring payload for adding or updating a
// question. A nil Order appends after the current last question; zero
// Points defaults to 1.
type QuestionInput struct {
	Type    QuestionType  `json:"type"`
	Prompt  string        `json:"prompt"`
	Points  int           `json:"points,omitempty"`
	Order   *int          `json:"order,omitempty"`
	Answers []AnswerInput `json:"answers,omitempty"`
}

type AnswerInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
	MatchKey  string `json:"match_key,omitempty"`
}

func validateQuestionInput(in QuestionInput) error {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" || len(prompt) > maxTextLen {
		return invalidf("prompt", "must be 1-%d characters", maxTextLen)
	}
	if in.Points < 0 {
		return invalidf("points", "must be a positive integer")
	}
	if in.Order != nil && *in.Order < 0 {
		return invalidf("order", "must be non-negative")
	}
	switch in.Type {
	case QuestionMultipleChoice:
		if len(in.Answers) == 0 {
			return invalidf("answers", "%s question needs at least one answer", in.Type)
		}
		correct := 0
		for _, a := range in.Answers {
			if a.IsCorrect {
				correct++
			}
		}
		if correct == 0 {
			return invalidf("answers", "multiple_choice question needs at least one correct answer")
		}
	case QuestionTrueFalse:
		if len(in.Answers) == 0 {
			return invalidf("answers", "%s question needs at least one answer", in.Type)
		}
		correct := 0
		for _, a := range in.Answers {
			if a.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return invalidf("answers", "true_false question needs exactly one correct answer")
		}
	case QuestionMatching:
		if len(in.Answers) == 0 {
			return invalidf("answers", "%s question needs at least one answer", in.Type)
		}
		for _, a := range in.Answers {
			if strings.TrimSpace(a.MatchKey) == "" {
				return invalidf("answers", "matching answers need a non-empty match_key")
			}
		}
	case QuestionTextInput:
		// answers are optional grading hints
	default:
		return invalidf("type", "unknown question type %q", string(in.Type))
	}
	for _, a := range in.Answers {
		if strings.TrimSpace(a.Text) == "" {
			return invalidf("answers", "answer text required")
		}
	}
	return nil
}

// validateResponse checks that a submitted payload has the shape the
// question type expects and references only answer ids belonging to
// the question. Stale or forged ids are hard errors, never ignored.
func validateResponse(q *Question, r Response) error {
	known := make(map[string]struct{}, len(q.Answers))
	for _, a := range q.Answers {
		known[a.ID] = struct{}{}
	}
	switch q.Type {
	case QuestionMultipleChoice, QuestionTrueFalse:
		if len(r.Matches) > 0 || r.Text != "" {
			return invalidf("response", "%s expects selected answer ids only", q.Type)
		}
		for _, id := range r.Selected {
			if _, ok := known[id]; !ok {
				return invalidf("response", "answer %s does not belong to question %s", id, q.ID)
			}
		}
	case QuestionMatching:
		if len(r.Selected) > 0 || r.Text != "" {
			return invalidf("response", "matching expects an answer id to match key mapping")
		}
		for id := range r.Matches {
			if _, ok := known[id]; !ok {
				return invalidf("response", "answer %s does not belong to question %s", id, q.ID)
			}
		}
	case QuestionTextInput:
		if len(r.Selected) > 0 || len(r.Matches) > 0 {
			return invalidf("response", "text_input expects free text only")
		}
	default:
		return invalidf("type", "unknown question type %q", string(q.Type))
	}
	return nil
}

func validateComment(content string) error {
	c := strings.TrimSpace(content)
	if c == "" || len(c) > maxTextLen {
		return invalidf("content", "must be 1-%d characters", maxTextLen)
	}
	return nil
}

func validateGrade(score, maxScore int, feedback string) error {
	if score < 0 || score > maxScore {
		return invalidf("score", "must be within 0-%d", maxScore)
	}
	if len(feedback) > maxTextLen {
		return invalidf("feedback", "must be at most %d characters", maxTextLen)
	}
	return nil
}
