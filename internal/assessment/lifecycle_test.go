package assessment

import (
	"context"
	"testing"
	"time"
)

// testClock lets tests move the store's wall clock forward.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*memoryStore, *testClock) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	ms := NewInMemoryStore().(*memoryStore)
	ms.now = clock.now
	return ms, clock
}

func baseTest(autoGrade bool, timeLimitMin int) Test {
	return Test{
		CourseID:         "course-1",
		Title:            "Unit quiz",
		MaxScore:         10,
		TimeLimitMinutes: timeLimitMin,
		AutoGrade:        autoGrade,
		Difficulty:       DifficultyMedium,
	}
}

// seedQuiz creates a test with one true_false (2 points) and one
// matching question (3 points, 3 pairs), returning the test with keys.
func seedQuiz(t *testing.T, ms *memoryStore, autoGrade bool, timeLimitMin int) Test {
	t.Helper()
	ctx := context.Background()
	created, err := ms.CreateTest(ctx, baseTest(autoGrade, timeLimitMin))
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	_, err = ms.AddQuestion(ctx, created.ID, QuestionInput{
		Type:   QuestionTrueFalse,
		Prompt: "The sky is blue.",
		Points: 2,
		Answers: []AnswerInput{
			{Text: "True", IsCorrect: true},
			{Text: "False"},
		},
	})
	if err != nil {
		t.Fatalf("add true_false: %v", err)
	}
	_, err = ms.AddQuestion(ctx, created.ID, QuestionInput{
		Type:   QuestionMatching,
		Prompt: "Match countries to capitals.",
		Points: 3,
		Answers: []AnswerInput{
			{Text: "France", MatchKey: "Paris"},
			{Text: "Japan", MatchKey: "Tokyo"},
			{Text: "Kenya", MatchKey: "Nairobi"},
		},
	})
	if err != nil {
		t.Fatalf("add matching: %v", err)
	}
	full, err := ms.GetTest(ctx, created.ID, true)
	if err != nil {
		t.Fatalf("get test: %v", err)
	}
	return full
}

func questionByType(t *testing.T, test Test, typ QuestionType) Question {
	t.Helper()
	for _, q := range test.Questions {
		if q.Type == typ {
			return q
		}
	}
	t.Fatalf("no %s question in test", typ)
	return Question{}
}

func correctAnswer(t *testing.T, q Question) Answer {
	t.Helper()
	for _, a := range q.Answers {
		if a.IsCorrect {
			return a
		}
	}
	t.Fatalf("no correct answer on question %s", q.ID)
	return Answer{}
}

// answerQuiz records a correct true_false pick and 2 of 3 matching
// pairs: raw 2 + round(3*2/3) = 4 of 5 points.
func answerQuiz(t *testing.T, ms *memoryStore, test Test, attemptID string) {
	t.Helper()
	ctx := context.Background()
	tf := questionByType(t, test, QuestionTrueFalse)
	if _, err := ms.SaveAnswer(ctx, attemptID, tf.ID, Response{Selected: []string{correctAnswer(t, tf).ID}}); err != nil {
		t.Fatalf("save true_false answer: %v", err)
	}
	m := questionByType(t, test, QuestionMatching)
	matches := map[string]string{
		m.Answers[0].ID: m.Answers[0].MatchKey,
		m.Answers[1].ID: m.Answers[1].MatchKey,
		m.Answers[2].ID: "wrong",
	}
	if _, err := ms.SaveAnswer(ctx, attemptID, m.ID, Response{Matches: matches}); err != nil {
		t.Fatalf("save matching answer: %v", err)
	}
}

func TestStartAttempt_OneLivePerPair(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	a, err := ms.StartAttempt(ctx, test.ID, "alice")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if a.MaxScore != test.MaxScore {
		t.Fatalf("attempt must copy the test max score, got %d", a.MaxScore)
	}
	if _, err := ms.StartAttempt(ctx, test.ID, "alice"); !IsConflict(err) {
		t.Fatalf("second live start must conflict, got %v", err)
	}
	// a different student is unaffected
	if _, err := ms.StartAttempt(ctx, test.ID, "bob"); err != nil {
		t.Fatalf("other student start: %v", err)
	}
	// after the attempt closes the student may start again
	if _, err := ms.SubmitAttempt(ctx, a.ID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := ms.StartAttempt(ctx, test.ID, "alice"); err != nil {
		t.Fatalf("restart after submit: %v", err)
	}
}

func TestStartAttempt_UnknownTest(t *testing.T) {
	ms, _ := newTestStore()
	if _, err := ms.StartAttempt(context.Background(), "nope", "alice"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSubmitAttempt_ScoresAndAutoGrades(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	a, err := ms.StartAttempt(ctx, test.ID, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answerQuiz(t, ms, test, a.ID)

	got, err := ms.SubmitAttempt(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// raw 4 of 5 points scaled to max 10 -> 8
	if got.Score != 8 {
		t.Fatalf("expected score 8, got %d", got.Score)
	}
	if got.Status != AttemptGraded {
		t.Fatalf("auto-gradable attempt should be graded, got %s", got.Status)
	}
	g, err := ms.GetGrade(ctx, a.ID)
	if err != nil {
		t.Fatalf("get grade: %v", err)
	}
	if g.Score != 8 || g.GraderID != GraderAuto {
		t.Fatalf("expected auto grade of 8, got %+v", g)
	}
}

func TestSubmitAttempt_Idempotent(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)

	first, err := ms.SubmitAttempt(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// a retried submit returns the stored result without rescoring,
	// even if it carries a different answer batch
	tf := questionByType(t, test, QuestionTrueFalse)
	wrong := tf.Answers[1].ID
	second, err := ms.SubmitAttempt(ctx, a.ID, []AnswerSubmission{
		{QuestionID: tf.ID, Response: Response{Selected: []string{wrong}}},
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Score != first.Score || second.Status != first.Status {
		t.Fatalf("submit not idempotent: first %d/%s second %d/%s",
			first.Score, first.Status, second.Score, second.Status)
	}
	if second.SubmittedAt != first.SubmittedAt {
		t.Fatal("retried submit must not move the submit time")
	}
}

func TestSubmitAttempt_FinalAnswerBatch(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	tf := questionByType(t, test, QuestionTrueFalse)
	got, err := ms.SubmitAttempt(ctx, a.ID, []AnswerSubmission{
		{QuestionID: tf.ID, Response: Response{Selected: []string{correctAnswer(t, tf).ID}}},
	})
	if err != nil {
		t.Fatalf("submit with final batch: %v", err)
	}
	// raw 2 of 5 -> 4 of 10
	if got.Score != 4 {
		t.Fatalf("expected score 4, got %d", got.Score)
	}
}

func TestSubmitAttempt_UnknownQuestionInBatch(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	_, err := ms.SubmitAttempt(ctx, a.ID, []AnswerSubmission{
		{QuestionID: "forged", Response: Response{Selected: []string{"x"}}},
	})
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for forged question id, got %v", err)
	}
	// the failed submit must not have closed the attempt
	cur, _ := ms.GetAttempt(ctx, a.ID)
	if cur.Status != AttemptInProgress {
		t.Fatalf("attempt must stay in progress after rejected submit, got %s", cur.Status)
	}
}

func TestExpiry_LazyObservation(t *testing.T) {
	ms, clock := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 30)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	if a.ExpiresAt != clock.now().Add(30*time.Minute).Unix() {
		t.Fatalf("expiry deadline wrong: %d", a.ExpiresAt)
	}
	answerQuiz(t, ms, test, a.ID)
	clock.advance(31 * time.Minute)

	// reads observe the expiry without persisting it
	got, err := ms.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != AttemptExpired {
		t.Fatalf("read should observe expired, got %s", got.Status)
	}
	if stored := ms.attempts[a.ID].Status; stored != AttemptInProgress {
		t.Fatalf("read must not persist the transition, stored %s", stored)
	}
}

func TestExpiry_WriteTouchMaterializes(t *testing.T) {
	ms, clock := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 30)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)
	clock.advance(31 * time.Minute)

	tf := questionByType(t, test, QuestionTrueFalse)
	_, err := ms.SaveAnswer(ctx, a.ID, tf.ID, Response{Selected: []string{tf.Answers[1].ID}})
	if !IsState(err) {
		t.Fatalf("expected StateError on post-deadline write, got %v", err)
	}
	if stored := ms.attempts[a.ID].Status; stored != AttemptExpired {
		t.Fatalf("write touch must persist expiry, stored %s", stored)
	}
	// the pre-deadline answers were scored on the way out
	if ms.attempts[a.ID].Score != 8 {
		t.Fatalf("expired attempt keeps its earned score, got %d", ms.attempts[a.ID].Score)
	}
}

func TestSubmit_AfterDeadlineIsExpiredButScored(t *testing.T) {
	ms, clock := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 30)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)
	clock.advance(31 * time.Minute)

	got, err := ms.SubmitAttempt(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != AttemptExpired {
		t.Fatalf("post-deadline submit must end expired, got %s", got.Status)
	}
	if got.Score != 8 {
		t.Fatalf("expiry must not change the score, got %d", got.Score)
	}
	// expired attempts are never auto-released, even on auto-grade tests
	if _, err := ms.GetGrade(ctx, a.ID); !IsNotFound(err) {
		t.Fatalf("expired attempt must wait for the teacher, got %v", err)
	}
}

func TestExpireOverdue_Sweep(t *testing.T) {
	ms, clock := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 30)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)
	if _, err := ms.StartAttempt(ctx, test.ID, "bob"); err != nil {
		t.Fatalf("second student start: %v", err)
	}
	clock.advance(31 * time.Minute)

	n, err := ms.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired, got %d", n)
	}
	got, _ := ms.GetAttempt(ctx, a.ID)
	if got.Status != AttemptExpired || got.Score != 8 {
		t.Fatalf("swept attempt should be expired and scored, got %s/%d", got.Status, got.Score)
	}
}

func TestUpdateQuestion_KeepsRecordedAnswersValid(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)

	// Teacher edits the matching question mid-attempt, re-posting the
	// same answers with a reworded prompt.
	m := questionByType(t, test, QuestionMatching)
	var answers []AnswerInput
	for _, ans := range m.Answers {
		answers = append(answers, AnswerInput{Text: ans.Text, MatchKey: ans.MatchKey})
	}
	upd, err := ms.UpdateQuestion(ctx, test.ID, m.ID, QuestionInput{
		Type:    QuestionMatching,
		Prompt:  "Match each country to its capital city.",
		Points:  m.Points,
		Answers: answers,
	})
	if err != nil {
		t.Fatalf("update question: %v", err)
	}
	for i, ans := range upd.Answers {
		if ans.ID != m.Answers[i].ID {
			t.Fatalf("answer %d id changed across edit: %s -> %s", i, m.Answers[i].ID, ans.ID)
		}
	}

	// The in-flight attempt still submits and scores as before.
	got, err := ms.SubmitAttempt(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("submit after question edit: %v", err)
	}
	if got.Score != 8 || got.Status != AttemptGraded {
		t.Fatalf("expected graded 8 after edit, got %s/%d", got.Status, got.Score)
	}
}

func TestExpireOverdue_SkipsUnscorableAttempt(t *testing.T) {
	ms, clock := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 30)

	alice, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, alice.ID)
	bob, _ := ms.StartAttempt(ctx, test.ID, "bob")
	tf := questionByType(t, test, QuestionTrueFalse)
	if _, err := ms.SaveAnswer(ctx, bob.ID, tf.ID, Response{Selected: []string{correctAnswer(t, tf).ID}}); err != nil {
		t.Fatalf("bob answer: %v", err)
	}

	// Shrinking the matching question orphans two of alice's recorded
	// pair ids, making her attempt unscorable.
	m := questionByType(t, test, QuestionMatching)
	if _, err := ms.UpdateQuestion(ctx, test.ID, m.ID, QuestionInput{
		Type:    QuestionMatching,
		Prompt:  m.Prompt,
		Points:  m.Points,
		Answers: []AnswerInput{{Text: "France", MatchKey: "Paris"}},
	}); err != nil {
		t.Fatalf("shrink question: %v", err)
	}
	clock.advance(31 * time.Minute)

	n, err := ms.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep must close the scorable attempt, got %d", n)
	}
	gotBob, _ := ms.GetAttempt(ctx, bob.ID)
	if gotBob.Status != AttemptExpired {
		t.Fatalf("bob's attempt should be swept, got %s", gotBob.Status)
	}
	if stored := ms.attempts[alice.ID].Status; stored != AttemptInProgress {
		t.Fatalf("unscorable attempt stays stored in_progress, got %s", stored)
	}
}

func TestListAttempts_NegativeOffsetClamped(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)
	if _, err := ms.StartAttempt(ctx, test.ID, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}

	list, err := ms.ListAttempts(ctx, AttemptListOpts{TestID: test.ID, Offset: -1, Limit: -3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("negative paging must act like zero, got %d attempts", len(list))
	}
}

func TestTextInput_NeverAutoCompletes(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)
	essay, err := ms.AddQuestion(ctx, test.ID, QuestionInput{
		Type:   QuestionTextInput,
		Prompt: "Explain your reasoning.",
		Points: 5,
	})
	if err != nil {
		t.Fatalf("add text_input: %v", err)
	}

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)
	if _, err := ms.SaveAnswer(ctx, a.ID, essay.ID, Response{Text: "because"}); err != nil {
		t.Fatalf("save essay: %v", err)
	}

	got, err := ms.SubmitAttempt(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != AttemptSubmitted {
		t.Fatalf("text_input test must stop at submitted, got %s", got.Status)
	}
	if !got.NeedsReview {
		t.Fatal("attempt must be flagged for review")
	}
	aa := got.Answers[essay.ID]
	if aa.PointsAwarded != nil || !aa.NeedsManualReview {
		t.Fatalf("essay answer must stay unscored, got %+v", aa)
	}

	// manual grading releases it
	g, err := ms.GradeAttempt(ctx, a.ID, 9, "good work", "teacher-1")
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if g.GraderID != "teacher-1" {
		t.Fatalf("grade must carry the grader, got %s", g.GraderID)
	}
	final, _ := ms.GetAttempt(ctx, a.ID)
	if final.Status != AttemptGraded || final.Score != 9 {
		t.Fatalf("expected graded 9, got %s/%d", final.Status, final.Score)
	}
}

func TestGradeAttempt_RangeAndRegrade(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, false, 0) // autoGrade off: stops at submitted

	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	answerQuiz(t, ms, test, a.ID)
	sub, err := ms.SubmitAttempt(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != AttemptSubmitted {
		t.Fatalf("autoGrade=false must stop at submitted, got %s", sub.Status)
	}

	if _, err := ms.GradeAttempt(ctx, a.ID, 11, "", "teacher-1"); !IsValidation(err) {
		t.Fatalf("score above max must be rejected, got %v", err)
	}
	if _, err := ms.GradeAttempt(ctx, a.ID, -1, "", "teacher-1"); !IsValidation(err) {
		t.Fatalf("negative score must be rejected, got %v", err)
	}

	if _, err := ms.GradeAttempt(ctx, a.ID, 7, "solid", "teacher-1"); err != nil {
		t.Fatalf("grade: %v", err)
	}
	// regrade overwrites in place and keeps the submit time
	if _, err := ms.GradeAttempt(ctx, a.ID, 9, "recounted", "teacher-2"); err != nil {
		t.Fatalf("regrade: %v", err)
	}
	g, _ := ms.GetGrade(ctx, a.ID)
	if g.Score != 9 || g.Feedback != "recounted" || g.GraderID != "teacher-2" {
		t.Fatalf("regrade must overwrite, got %+v", g)
	}
	final, _ := ms.GetAttempt(ctx, a.ID)
	if final.SubmittedAt != sub.SubmittedAt {
		t.Fatal("regrade must not move the original submit time")
	}
}

func TestGradeAttempt_InProgressRejected(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, false, 0)
	a, _ := ms.StartAttempt(ctx, test.ID, "alice")
	if _, err := ms.GradeAttempt(ctx, a.ID, 5, "", "teacher-1"); !IsState(err) {
		t.Fatalf("grading a live attempt must be a StateError, got %v", err)
	}
}

func TestSaveAnswer_Validation(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)
	a, _ := ms.StartAttempt(ctx, test.ID, "alice")

	tf := questionByType(t, test, QuestionTrueFalse)
	if _, err := ms.SaveAnswer(ctx, a.ID, tf.ID, Response{Selected: []string{"forged-id"}}); !IsValidation(err) {
		t.Fatalf("stale answer id must be a ValidationError, got %v", err)
	}
	if _, err := ms.SaveAnswer(ctx, a.ID, tf.ID, Response{Text: "nope"}); !IsValidation(err) {
		t.Fatalf("wrong payload shape must be a ValidationError, got %v", err)
	}
	if _, err := ms.SaveAnswer(ctx, a.ID, "missing", Response{}); !IsNotFound(err) {
		t.Fatalf("unknown question must be NotFound, got %v", err)
	}

	if _, err := ms.SubmitAttempt(ctx, a.ID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := ms.SaveAnswer(ctx, a.ID, tf.ID, Response{Selected: []string{correctAnswer(t, tf).ID}}); !IsState(err) {
		t.Fatalf("writing to a closed attempt must be a StateError, got %v", err)
	}
}

func TestComments_AuthorRules(t *testing.T) {
	ms, clock := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, false, 0)
	a, _ := ms.StartAttempt(ctx, test.ID, "alice")

	c1, err := ms.AddComment(ctx, a.ID, "teacher-1", "please revisit question 2")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if c1.UpdatedAt != c1.CreatedAt {
		t.Fatal("fresh comment must have updatedAt == createdAt")
	}
	clock.advance(time.Minute)
	c2, err := ms.AddComment(ctx, a.ID, "alice", "fixed, thanks")
	if err != nil {
		t.Fatalf("second comment: %v", err)
	}

	if _, err := ms.UpdateComment(ctx, c1.ID, "alice", "hijacked"); !IsConflict(err) {
		t.Fatalf("edit by non-author must be rejected, got %v", err)
	}
	clock.advance(time.Minute)
	upd, err := ms.UpdateComment(ctx, c1.ID, "teacher-1", "please revisit question 3")
	if err != nil {
		t.Fatalf("author edit: %v", err)
	}
	if upd.AuthorID != "teacher-1" || upd.CreatedAt != c1.CreatedAt {
		t.Fatal("edit must keep author and creation time")
	}
	if upd.UpdatedAt == c1.CreatedAt {
		t.Fatal("edit must move updatedAt")
	}

	list, err := ms.ListComments(ctx, a.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != c1.ID || list[1].ID != c2.ID {
		t.Fatalf("comments must order by creation time, got %+v", list)
	}
}

func TestGetTest_StripsKeysForStudents(t *testing.T) {
	ms, _ := newTestStore()
	ctx := context.Background()
	test := seedQuiz(t, ms, true, 0)

	student, err := ms.GetTest(ctx, test.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, q := range student.Questions {
		for _, a := range q.Answers {
			if a.IsCorrect || a.MatchKey != "" {
				t.Fatalf("student view leaked answer key on question %s", q.ID)
			}
		}
	}
}
