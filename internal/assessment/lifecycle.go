package assessment

import (
	"errors"
	"time"

	"github.com/courselab/assessment-engine/internal/grading"
)

func gradingQuestion(q *Question) grading.Q {
	gq := grading.Q{
		ID:     q.ID,
		Type:   string(q.Type),
		Points: q.Points,
	}
	for _, a := range q.Answers {
		gq.AnswerIDs = append(gq.AnswerIDs, a.ID)
		if a.IsCorrect {
			gq.CorrectIDs = append(gq.CorrectIDs, a.ID)
		}
	}
	if q.Type == QuestionMatching {
		gq.MatchKeys = make(map[string]string, len(q.Answers))
		for _, a := range q.Answers {
			gq.MatchKeys[a.ID] = a.MatchKey
		}
	}
	return gq
}

// scoreAttempt runs the evaluator over the attempt's answers and fills
// in per-answer points and the attempt-wide provisional score. Stale
// answer ids surface as ValidationError without touching the attempt.
func scoreAttempt(t *Test, a *Attempt) error {
	qs := t.SortedQuestions()
	gqs := make([]grading.Q, len(qs))
	for i := range qs {
		gqs[i] = gradingQuestion(&qs[i])
	}
	responses := make(map[string]grading.Response, len(a.Answers))
	for qid, aa := range a.Answers {
		responses[qid] = grading.Response{
			Selected: aa.Response.Selected,
			Matches:  aa.Response.Matches,
			Text:     aa.Response.Text,
		}
	}
	sum, err := grading.Aggregate(gqs, responses, t.MaxScore)
	if err != nil {
		var bad *grading.BadResponseError
		if errors.As(err, &bad) {
			return invalidf("response", "%s", bad.Error())
		}
		return err
	}
	for qid, res := range sum.Results {
		aa := a.Answers[qid]
		aa.NeedsManualReview = res.NeedsManual
		if res.NeedsManual {
			aa.PointsAwarded = nil
		} else {
			pts := res.Points
			aa.PointsAwarded = &pts
		}
		a.Answers[qid] = aa
	}
	a.Score = sum.Score
	a.NeedsReview = sum.NeedsManual
	return nil
}

// finalizeAttempt scores the attempt and moves it to its terminal
// submit state. The target is EXPIRED when the deadline has passed,
// SUBMITTED otherwise; scoring is identical either way. An on-time
// attempt on an auto-grading test with nothing to review goes straight
// to GRADED and the returned grade must be persisted alongside it; an
// expired attempt always stops at EXPIRED and waits for the teacher.
func finalizeAttempt(t *Test, a *Attempt, now time.Time) (*Grade, error) {
	if err := scoreAttempt(t, a); err != nil {
		return nil, err
	}
	a.SubmittedAt = now.Unix()
	if a.TimedOut(now) {
		a.Status = AttemptExpired
	} else {
		a.Status = AttemptSubmitted
	}
	if a.Status == AttemptSubmitted && t.AutoGrade && !a.NeedsReview {
		a.Status = AttemptGraded
		return &Grade{
			AttemptID: a.ID,
			Score:     a.Score,
			MaxScore:  a.MaxScore,
			GraderID:  GraderAuto,
			GradedAt:  now.Unix(),
		}, nil
	}
	return nil, nil
}
