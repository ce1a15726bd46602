package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLStore persists the engine in a relational store. Questions live
// embedded in the test row and answers in the attempt row, both as
// JSON; attempts, grades and comments are first-class rows. Works
// against sqlite (modernc) and postgres (pgx) alike.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) CreateTest(ctx context.Context, t Test) (Test, error) {
	if err := validateTest(&t); err != nil {
		return Test{}, err
	}
	t.ID = uuid.NewString()
	t.CreatedAt = s.now().Unix()
	t.Questions = nil
	qj, err := json.Marshal([]Question{})
	if err != nil {
		return Test{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tests
		(id,course_id,title,description,max_score,time_limit_min,auto_grade,difficulty,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.CourseID, t.Title, t.Description, t.MaxScore, t.TimeLimitMinutes,
		boolToInt(t.AutoGrade), string(t.Difficulty), string(qj), t.CreatedAt)
	if err != nil {
		return Test{}, err
	}
	return t, nil
}

func (s *SQLStore) GetTest(ctx context.Context, id string, includeKeys bool) (Test, error) {
	t, err := loadTest(ctx, s.db, id)
	if err != nil {
		return Test{}, err
	}
	if !includeKeys {
		stripAnswerKeys(&t)
	}
	return t, nil
}

func (s *SQLStore) AddQuestion(ctx context.Context, testID string, in QuestionInput) (Question, error) {
	if err := validateQuestionInput(in); err != nil {
		return Question{}, err
	}
	var q Question
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := loadTest(ctx, tx, testID)
		if err != nil {
			return err
		}
		q = buildQuestion(in, nextOrder(t.Questions))
		t.Questions = append(t.Questions, q)
		return saveQuestions(ctx, tx, &t)
	})
	return q, err
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, testID, questionID string, in QuestionInput) (Question, error) {
	if err := validateQuestionInput(in); err != nil {
		return Question{}, err
	}
	var q Question
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := loadTest(ctx, tx, testID)
		if err != nil {
			return err
		}
		target := t.question(questionID)
		if target == nil {
			return &NotFoundError{Kind: "question", ID: questionID}
		}
		applyQuestionInput(target, in)
		q = *target
		return saveQuestions(ctx, tx, &t)
	})
	return q, err
}

func (s *SQLStore) StartAttempt(ctx context.Context, testID, userID string) (Attempt, error) {
	var a Attempt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := loadTest(ctx, tx, testID)
		if err != nil {
			return err
		}
		now := s.now()
		a = Attempt{
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
		aj, err := json.Marshal(a.Answers)
		if err != nil {
			return err
		}
		// Insert-if-absent filters the common duplicate; under
		// concurrent starts on postgres both snapshots can miss each
		// other, and the partial unique index on live attempts decides.
		res, err := tx.ExecContext(ctx, `INSERT INTO attempts
			(id,test_id,user_id,status,score,max_score,needs_review,answers_json,started_at,expires_at,submitted_at)
			SELECT $1,$2,$3,$4,0,$5,0,$6,$7,$8,0
			WHERE NOT EXISTS (
				SELECT 1 FROM attempts WHERE test_id=$2 AND user_id=$3 AND status=$9
			)`,
			a.ID, testID, userID, string(AttemptInProgress), a.MaxScore,
			string(aj), a.StartedAt, a.ExpiresAt, string(AttemptInProgress))
		if err != nil {
			if isUniqueViolation(err) {
				return &ConflictError{Msg: "an in-progress attempt already exists for this test"}
			}
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &ConflictError{Msg: "an in-progress attempt already exists for this test"}
		}
		return nil
	})
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (s *SQLStore) SaveAnswer(ctx context.Context, attemptID, questionID string, r Response) (Attempt, error) {
	var out Attempt
	var stateErr error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAttemptRow(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if a.Status != AttemptInProgress {
			return &StateError{Op: "record answer", Status: a.Status}
		}
		t, err := loadTest(ctx, tx, a.TestID)
		if err != nil {
			return err
		}
		now := s.now()
		if a.TimedOut(now) {
			// Write-path touch: persist the lazy expiry, then reject.
			if _, err := finalizeTx(ctx, tx, &t, &a, now); err != nil {
				return err
			}
			stateErr = &StateError{Op: "record answer", Status: AttemptExpired}
			return nil
		}
		q := t.question(questionID)
		if q == nil {
			return &NotFoundError{Kind: "question", ID: questionID}
		}
		if err := validateResponse(q, r); err != nil {
			return err
		}
		a.Answers[questionID] = AttemptAnswer{QuestionID: questionID, Response: r}
		aj, err := json.Marshal(a.Answers)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attempts SET answers_json=$1 WHERE id=$2 AND status=$3`,
			string(aj), attemptID, string(AttemptInProgress)); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Attempt{}, err
	}
	if stateErr != nil {
		return Attempt{}, stateErr
	}
	return out, nil
}

func (s *SQLStore) SubmitAttempt(ctx context.Context, attemptID string, final []AnswerSubmission) (Attempt, error) {
	var out Attempt
	raced := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAttemptRow(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if a.Status != AttemptInProgress {
			// Idempotent: a repeated submit observes the stored result.
			out = a
			return nil
		}
		t, err := loadTest(ctx, tx, a.TestID)
		if err != nil {
			return err
		}
		now := s.now()
		if !a.TimedOut(now) {
			for _, f := range final {
				q := t.question(f.QuestionID)
				if q == nil {
					return &NotFoundError{Kind: "question", ID: f.QuestionID}
				}
				if err := validateResponse(q, f.Response); err != nil {
					return err
				}
				a.Answers[f.QuestionID] = AttemptAnswer{QuestionID: f.QuestionID, Response: f.Response}
			}
		}
		won, err := finalizeTx(ctx, tx, &t, &a, now)
		if err != nil {
			return err
		}
		if !won {
			raced = true
			return nil
		}
		out = a
		return nil
	})
	if err != nil {
		return Attempt{}, err
	}
	if raced {
		// A concurrent submit got there first; return its result.
		return s.GetAttempt(ctx, attemptID)
	}
	return out, nil
}

// finalizeTx scores and closes an in-progress attempt inside tx. The
// status transition is a compare-and-set on in_progress; a false
// return means another writer already closed the attempt.
func finalizeTx(ctx context.Context, tx *sql.Tx, t *Test, a *Attempt, now time.Time) (bool, error) {
	g, err := finalizeAttempt(t, a, now)
	if err != nil {
		return false, err
	}
	aj, err := json.Marshal(a.Answers)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE attempts
		SET status=$1, score=$2, needs_review=$3, answers_json=$4, submitted_at=$5
		WHERE id=$6 AND status=$7`,
		string(a.Status), a.Score, boolToInt(a.NeedsReview), string(aj),
		a.SubmittedAt, a.ID, string(AttemptInProgress))
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if g != nil {
		if err := upsertGrade(ctx, tx, *g); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := getAttemptRow(ctx, s.db, id)
	if err != nil {
		return Attempt{}, err
	}
	a.Status = a.EffectiveStatus(s.now())
	return a, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	where := "1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s=$%d", clause, n)
		args = append(args, v)
	}
	if opts.TestID != "" {
		add("test_id", opts.TestID)
	}
	if opts.UserID != "" {
		add("user_id", opts.UserID)
	}
	if opts.Status != "" {
		add("status", opts.Status)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT id,test_id,user_id,status,score,max_score,needs_review,answers_json,started_at,expires_at,submitted_at
		FROM attempts WHERE %s ORDER BY started_at DESC, id LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	var list []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		a.Status = a.EffectiveStatus(now)
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *SQLStore) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM attempts WHERE status=$1 AND expires_at > 0 AND expires_at < $2`,
		string(AttemptInProgress), now.Unix())
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			a, err := getAttemptRow(ctx, tx, id)
			if err != nil {
				return err
			}
			if a.Status != AttemptInProgress {
				return nil
			}
			t, err := loadTest(ctx, tx, a.TestID)
			if err != nil {
				return err
			}
			won, err := finalizeTx(ctx, tx, &t, &a, now)
			if err != nil {
				return err
			}
			if won {
				closed++
			}
			return nil
		})
		// One unscorable attempt must not stall the rest of the sweep.
		if err != nil {
			continue
		}
	}
	return closed, nil
}

func (s *SQLStore) GradeAttempt(ctx context.Context, attemptID string, score int, feedback, graderID string) (Grade, error) {
	var g Grade
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAttemptRow(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		now := s.now()
		if a.Status == AttemptInProgress {
			if !a.TimedOut(now) {
				return &StateError{Op: "grade", Status: a.Status}
			}
			t, err := loadTest(ctx, tx, a.TestID)
			if err != nil {
				return err
			}
			if _, err := finalizeTx(ctx, tx, &t, &a, now); err != nil {
				return err
			}
		}
		if err := validateGrade(score, a.MaxScore, feedback); err != nil {
			return err
		}
		g = Grade{
			AttemptID: attemptID,
			Score:     score,
			MaxScore:  a.MaxScore,
			Feedback:  feedback,
			GraderID:  graderID,
			GradedAt:  now.Unix(),
		}
		if err := upsertGrade(ctx, tx, g); err != nil {
			return err
		}
		// Regrading overwrites in place; the original submit time stays.
		_, err = tx.ExecContext(ctx, `UPDATE attempts SET score=$1, status=$2 WHERE id=$3`,
			score, string(AttemptGraded), attemptID)
		return err
	})
	if err != nil {
		return Grade{}, err
	}
	return g, nil
}

func (s *SQLStore) GetGrade(ctx context.Context, attemptID string) (Grade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT attempt_id,score,max_score,feedback,grader_id,graded_at FROM grades WHERE attempt_id=$1`,
		attemptID)
	var g Grade
	if err := row.Scan(&g.AttemptID, &g.Score, &g.MaxScore, &g.Feedback, &g.GraderID, &g.GradedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Grade{}, &NotFoundError{Kind: "grade", ID: attemptID}
		}
		return Grade{}, err
	}
	return g, nil
}

func (s *SQLStore) AddComment(ctx context.Context, targetID, authorID, content string) (Comment, error) {
	if targetID == "" {
		return Comment{}, invalidf("target_id", "required")
	}
	if err := validateComment(content); err != nil {
		return Comment{}, err
	}
	now := s.now().Unix()
	c := Comment{
		ID:        uuid.NewString(),
		TargetID:  targetID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO comments
		(id,target_id,author_id,content,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.TargetID, c.AuthorID, c.Content, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

func (s *SQLStore) UpdateComment(ctx context.Context, commentID, authorID, content string) (Comment, error) {
	if err := validateComment(content); err != nil {
		return Comment{}, err
	}
	var c Comment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id,target_id,author_id,content,created_at,updated_at FROM comments WHERE id=$1`,
			commentID)
		if err := row.Scan(&c.ID, &c.TargetID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{Kind: "comment", ID: commentID}
			}
			return err
		}
		if c.AuthorID != authorID {
			return &ConflictError{Msg: "comment can only be edited by its author"}
		}
		c.Content = content
		c.UpdatedAt = s.now().Unix()
		_, err := tx.ExecContext(ctx, `UPDATE comments SET content=$1, updated_at=$2 WHERE id=$3`,
			c.Content, c.UpdatedAt, commentID)
		return err
	})
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

func (s *SQLStore) ListComments(ctx context.Context, targetID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,target_id,author_id,content,created_at,updated_at FROM comments
		 WHERE target_id=$1 ORDER BY created_at, id`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TargetID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// --- row helpers ---

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func loadTest(ctx context.Context, q dbtx, id string) (Test, error) {
	row := q.QueryRowContext(ctx, `SELECT id,course_id,title,description,max_score,time_limit_min,auto_grade,difficulty,questions_json,created_at
		FROM tests WHERE id=$1`, id)
	var t Test
	var auto int
	var qjson, diff string
	if err := row.Scan(&t.ID, &t.CourseID, &t.Title, &t.Description, &t.MaxScore,
		&t.TimeLimitMinutes, &auto, &diff, &qjson, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Test{}, &NotFoundError{Kind: "test", ID: id}
		}
		return Test{}, err
	}
	t.AutoGrade = auto != 0
	t.Difficulty = Difficulty(diff)
	if err := json.Unmarshal([]byte(qjson), &t.Questions); err != nil {
		return Test{}, err
	}
	return t, nil
}

func saveQuestions(ctx context.Context, tx *sql.Tx, t *Test) error {
	qj, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tests SET questions_json=$1 WHERE id=$2`, string(qj), t.ID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var status, ajson string
	var review int
	if err := row.Scan(&a.ID, &a.TestID, &a.UserID, &status, &a.Score, &a.MaxScore,
		&review, &ajson, &a.StartedAt, &a.ExpiresAt, &a.SubmittedAt); err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptStatus(status)
	a.NeedsReview = review != 0
	if err := json.Unmarshal([]byte(ajson), &a.Answers); err != nil {
		return Attempt{}, err
	}
	if a.Answers == nil {
		a.Answers = map[string]AttemptAnswer{}
	}
	return a, nil
}

func getAttemptRow(ctx context.Context, q dbtx, id string) (Attempt, error) {
	row := q.QueryRowContext(ctx, `SELECT id,test_id,user_id,status,score,max_score,needs_review,answers_json,started_at,expires_at,submitted_at
		FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, &NotFoundError{Kind: "attempt", ID: id}
		}
		return Attempt{}, err
	}
	return a, nil
}

func upsertGrade(ctx context.Context, tx *sql.Tx, g Grade) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO grades (attempt_id,score,max_score,feedback,grader_id,graded_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (attempt_id) DO UPDATE SET
			score=EXCLUDED.score, feedback=EXCLUDED.feedback,
			grader_id=EXCLUDED.grader_id, graded_at=EXCLUDED.graded_at`,
		g.AttemptID, g.Score, g.MaxScore, g.Feedback, g.GraderID, g.GradedAt)
	return err
}

// pgUniqueViolation is the postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// isUniqueViolation matches the live-attempt unique index firing on
// either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
