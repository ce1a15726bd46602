package grading

// Summary is the attempt-wide outcome of running the evaluator over
// every question of a test.
type Summary struct {
	Results     map[string]Result // question id -> per-question result, answered questions only
	RawPoints   int               // sum of awarded points (manual-review answers count 0)
	TotalPoints int               // sum of question points, the normalization denominator
	Score       int               // raw points scaled to maxScore, rounded half-up
	NeedsManual bool
}

// Aggregate scores every answered question and normalizes the raw
// point total to the test's max score. A test containing any
// text_input question needs manual review even if the student left it
// blank, so auto-completion can never skip the teacher.
func Aggregate(questions []Q, responses map[string]Response, maxScore int) (Summary, error) {
	sum := Summary{Results: make(map[string]Result, len(responses))}
	for _, q := range questions {
		sum.TotalPoints += q.Points
		if q.Type == TypeTextInput {
			sum.NeedsManual = true
		}
		r, answered := responses[q.ID]
		if !answered {
			continue
		}
		res, err := Evaluate(q, r)
		if err != nil {
			return Summary{}, err
		}
		sum.Results[q.ID] = res
		if !res.NeedsManual {
			sum.RawPoints += res.Points
		}
	}
	if sum.TotalPoints > 0 {
		sum.Score = roundHalfUp(float64(sum.RawPoints) / float64(sum.TotalPoints) * float64(maxScore))
	}
	return sum, nil
}
