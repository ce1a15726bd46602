package assessment

import "context"

// AnswerSubmission is one entry of the optional final answer batch a
// client may attach to its submit call.
type AnswerSubmission struct {
	QuestionID string   `json:"question_id"`
	Response   Response `json:"response"`
}

type AttemptListOpts struct {
	TestID string
	UserID string
	Status string // optional: in_progress|submitted|expired|graded
	Limit  int
	Offset int
}

// Store is the persistence boundary of the engine. Implementations
// must keep StartAttempt atomic with its uniqueness check and
// SubmitAttempt a compare-and-set on the current status.
type Store interface {
	CreateTest(ctx context.Context, t Test) (Test, error)
	// GetTest returns the test; unless includeKeys is set, answer
	// correctness flags and match keys are stripped for student views.
	GetTest(ctx context.Context, id string, includeKeys bool) (Test, error)
	AddQuestion(ctx context.Context, testID string, in QuestionInput) (Question, error)
	UpdateQuestion(ctx context.Context, testID, questionID string, in QuestionInput) (Question, error)

	StartAttempt(ctx context.Context, testID, userID string) (Attempt, error)
	SaveAnswer(ctx context.Context, attemptID, questionID string, r Response) (Attempt, error)
	SubmitAttempt(ctx context.Context, attemptID string, final []AnswerSubmission) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	// ExpireOverdue finalizes every overdue in-progress attempt and
	// returns how many it closed. Meant for an external sweep; the
	// engine itself only expires lazily.
	ExpireOverdue(ctx context.Context) (int, error)

	GradeAttempt(ctx context.Context, attemptID string, score int, feedback, graderID string) (Grade, error)
	GetGrade(ctx context.Context, attemptID string) (Grade, error)

	AddComment(ctx context.Context, targetID, authorID, content string) (Comment, error)
	UpdateComment(ctx context.Context, commentID, authorID, content string) (Comment, error)
	ListComments(ctx context.Context, targetID string) ([]Comment, error)
}
