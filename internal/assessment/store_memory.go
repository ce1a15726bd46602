package assessment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps everything in maps behind one mutex. It backs the
// offline demo mode and the package tests; the SQL store is the
// production implementation.
type memoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	tests    map[string]*Test
	attempts map[string]*Attempt
	grades   map[string]*Grade
	comments map[string]*Comment
}

func NewInMemoryStore() Store {
	return &memoryStore{
		now:      time.Now,
		tests:    map[string]*Test{},
		attempts: map[string]*Attempt{},
		grades:   map[string]*Grade{},
		comments: map[string]*Comment{},
	}
}

func (m *memoryStore) CreateTest(_ context.Context, t Test) (Test, error) {
	if err := validateTest(&t); err != nil {
		return Test{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.NewString()
	t.CreatedAt = m.now().Unix()
	t.Questions = nil
	cp := t
	m.tests[t.ID] = &cp
	return t, nil
}

func (m *memoryStore) GetTest(_ context.Context, id string, includeKeys bool) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return Test{}, &NotFoundError{Kind: "test", ID: id}
	}
	out := cloneTest(t)
	if !includeKeys {
		stripAnswerKeys(&out)
	}
	return out, nil
}

func (m *memoryStore) AddQuestion(_ context.Context, testID string, in QuestionInput) (Question, error) {
	if err := validateQuestionInput(in); err != nil {
		return Question{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[testID]
	if !ok {
		return Question{}, &NotFoundError{Kind: "test", ID: testID}
	}
	q := buildQuestion(in, nextOrder(t.Questions))
	t.Questions = append(t.Questions, q)
	return q, nil
}

func (m *memoryStore) UpdateQuestion(_ context.Context, testID, questionID string, in QuestionInput) (Question, error) {
	if err := validateQuestionInput(in); err != nil {
		return Question{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[testID]
	if !ok {
		return Question{}, &NotFoundError{Kind: "test", ID: testID}
	}
	q := t.question(questionID)
	if q == nil {
		return Question{}, &NotFoundError{Kind: "question", ID: questionID}
	}
	applyQuestionInput(q, in)
	return *q, nil
}

func (m *memoryStore) StartAttempt(_ context.Context, testID, userID string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[testID]
	if !ok {
		return Attempt{}, &NotFoundError{Kind: "test", ID: testID}
	}
	for _, a := range m.attempts {
		if a.TestID == testID && a.UserID == userID && a.Status == AttemptInProgress {
			return Attempt{}, &ConflictError{Msg: "an in-progress attempt already exists for this test"}
		}
	}
	now := m.now()
	a := &Attempt{
		ID:        uuid.NewString(),
		TestID:    testID,
		UserID:    userID,
		Status:    AttemptInProgress,
		MaxScore:  t.MaxScore,
		Answers:   map[string]AttemptAnswer{},
		StartedAt: now.Unix(),
	}
	if t.TimeLimitMinutes > 0 {
		a.ExpiresAt = now.Add(time.Duration(t.TimeLimitMinutes) * time.Minute).Unix()
	}
	m.attempts[a.ID] = a
	return cloneAttempt(a), nil
}

func (m *memoryStore) SaveAnswer(_ context.Context, attemptID, questionID string, r Response) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, &NotFoundError{Kind: "attempt", ID: attemptID}
	}
	if a.Status != AttemptInProgress {
		return Attempt{}, &StateError{Op: "record answer", Status: a.Status}
	}
	t := m.tests[a.TestID]
	now := m.now()
	if a.TimedOut(now) {
		// Write-path touch materializes the lazy expiry before rejecting.
		if _, err := m.finalizeLocked(t, a, now); err != nil {
			return Attempt{}, err
		}
		return Attempt{}, &StateError{Op: "record answer", Status: AttemptExpired}
	}
	q := t.question(questionID)
	if q == nil {
		return Attempt{}, &NotFoundError{Kind: "question", ID: questionID}
	}
	if err := validateResponse(q, r); err != nil {
		return Attempt{}, err
	}
	a.Answers[questionID] = AttemptAnswer{QuestionID: questionID, Response: r}
	return cloneAttempt(a), nil
}

func (m *memoryStore) SubmitAttempt(_ context.Context, attemptID string, final []AnswerSubmission) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, &NotFoundError{Kind: "attempt", ID: attemptID}
	}
	if a.Status != AttemptInProgress {
		// Idempotent: a repeated submit observes the stored result.
		return cloneAttempt(a), nil
	}
	t := m.tests[a.TestID]
	now := m.now()
	if !a.TimedOut(now) {
		for _, f := range final {
			q := t.question(f.QuestionID)
			if q == nil {
				return Attempt{}, &NotFoundError{Kind: "question", ID: f.QuestionID}
			}
			if err := validateResponse(q, f.Response); err != nil {
				return Attempt{}, err
			}
			a.Answers[f.QuestionID] = AttemptAnswer{QuestionID: f.QuestionID, Response: f.Response}
		}
	}
	if _, err := m.finalizeLocked(t, a, now); err != nil {
		return Attempt{}, err
	}
	return cloneAttempt(a), nil
}

// finalizeLocked scores and closes an in-progress attempt, persisting
// the auto grade when the evaluator releases one. Caller holds mu.
func (m *memoryStore) finalizeLocked(t *Test, a *Attempt, now time.Time) (*Grade, error) {
	g, err := finalizeAttempt(t, a, now)
	if err != nil {
		return nil, err
	}
	if g != nil {
		cp := *g
		m.grades[a.ID] = &cp
	}
	return g, nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, &NotFoundError{Kind: "attempt", ID: id}
	}
	out := cloneAttempt(a)
	out.Status = a.EffectiveStatus(m.now())
	return out, nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var list []Attempt
	for _, a := range m.attempts {
		if opts.TestID != "" && a.TestID != opts.TestID {
			continue
		}
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && string(a.Status) != opts.Status {
			continue
		}
		out := cloneAttempt(a)
		out.Status = a.EffectiveStatus(now)
		list = append(list, out)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt != list[j].StartedAt {
			return list[i].StartedAt > list[j].StartedAt
		}
		return list[i].ID < list[j].ID
	})
	return paginate(list, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) ExpireOverdue(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, a := range m.attempts {
		if a.Status != AttemptInProgress || !a.TimedOut(now) {
			continue
		}
		// One unscorable attempt must not stall the rest of the sweep.
		if _, err := m.finalizeLocked(m.tests[a.TestID], a, now); err != nil {
			continue
		}
		n++
	}
	return n, nil
}

func (m *memoryStore) GradeAttempt(_ context.Context, attemptID string, score int, feedback, graderID string) (Grade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Grade{}, &NotFoundError{Kind: "attempt", ID: attemptID}
	}
	now := m.now()
	if a.Status == AttemptInProgress {
		if !a.TimedOut(now) {
			return Grade{}, &StateError{Op: "grade", Status: a.Status}
		}
		if _, err := m.finalizeLocked(m.tests[a.TestID], a, now); err != nil {
			return Grade{}, err
		}
	}
	if err := validateGrade(score, a.MaxScore, feedback); err != nil {
		return Grade{}, err
	}
	g := &Grade{
		AttemptID: attemptID,
		Score:     score,
		MaxScore:  a.MaxScore,
		Feedback:  feedback,
		GraderID:  graderID,
		GradedAt:  now.Unix(),
	}
	m.grades[attemptID] = g
	a.Score = score
	a.Status = AttemptGraded
	return *g, nil
}

func (m *memoryStore) GetGrade(_ context.Context, attemptID string) (Grade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grades[attemptID]
	if !ok {
		return Grade{}, &NotFoundError{Kind: "grade", ID: attemptID}
	}
	return *g, nil
}

func (m *memoryStore) AddComment(_ context.Context, targetID, authorID, content string) (Comment, error) {
	if targetID == "" {
		return Comment{}, invalidf("target_id", "required")
	}
	if err := validateComment(content); err != nil {
		return Comment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().Unix()
	c := &Comment{
		ID:        uuid.NewString(),
		TargetID:  targetID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.comments[c.ID] = c
	return *c, nil
}

func (m *memoryStore) UpdateComment(_ context.Context, commentID, authorID, content string) (Comment, error) {
	if err := validateComment(content); err != nil {
		return Comment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok {
		return Comment{}, &NotFoundError{Kind: "comment", ID: commentID}
	}
	if c.AuthorID != authorID {
		return Comment{}, &ConflictError{Msg: "comment can only be edited by its author"}
	}
	c.Content = content
	c.UpdatedAt = m.now().Unix()
	return *c, nil
}

func (m *memoryStore) ListComments(_ context.Context, targetID string) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []Comment
	for _, c := range m.comments {
		if c.TargetID == targetID {
			list = append(list, *c)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// --- construction and copy helpers shared with the SQL store ---

func buildQuestion(in QuestionInput, defaultOrder int) Question {
	q := Question{
		ID:     uuid.NewString(),
		Type:   in.Type,
		Prompt: in.Prompt,
		Points: in.Points,
		Order:  defaultOrder,
	}
	if q.Points == 0 {
		q.Points = 1
	}
	if in.Order != nil {
		q.Order = *in.Order
	}
	for _, a := range in.Answers {
		q.Answers = append(q.Answers, Answer{
			ID:        uuid.NewString(),
			Text:      a.Text,
			IsCorrect: a.IsCorrect,
			MatchKey:  a.MatchKey,
		})
	}
	return q
}

func applyQuestionInput(q *Question, in QuestionInput) {
	q.Type = in.Type
	q.Prompt = in.Prompt
	q.Points = in.Points
	if q.Points == 0 {
		q.Points = 1
	}
	if in.Order != nil {
		q.Order = *in.Order
	}
	// Answers keep their ids positionally so responses already recorded
	// by live attempts stay valid; only appended answers get fresh ids.
	old := q.Answers
	q.Answers = nil
	for i, a := range in.Answers {
		id := uuid.NewString()
		if i < len(old) {
			id = old[i].ID
		}
		q.Answers = append(q.Answers, Answer{
			ID:        id,
			Text:      a.Text,
			IsCorrect: a.IsCorrect,
			MatchKey:  a.MatchKey,
		})
	}
}

func nextOrder(qs []Question) int {
	next := 0
	for _, q := range qs {
		if q.Order >= next {
			next = q.Order + 1
		}
	}
	return next
}

func stripAnswerKeys(t *Test) {
	for i := range t.Questions {
		for j := range t.Questions[i].Answers {
			t.Questions[i].Answers[j].IsCorrect = false
			t.Questions[i].Answers[j].MatchKey = ""
		}
	}
}

func cloneTest(t *Test) Test {
	out := *t
	out.Questions = make([]Question, len(t.Questions))
	for i, q := range t.Questions {
		cq := q
		cq.Answers = append([]Answer(nil), q.Answers...)
		out.Questions[i] = cq
	}
	return out
}

func cloneAttempt(a *Attempt) Attempt {
	out := *a
	out.Answers = make(map[string]AttemptAnswer, len(a.Answers))
	for k, v := range a.Answers {
		if v.PointsAwarded != nil {
			pts := *v.PointsAwarded
			v.PointsAwarded = &pts
		}
		out.Answers[k] = v
	}
	return out
}

func paginate(list []Attempt, limit, offset int) []Attempt {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
