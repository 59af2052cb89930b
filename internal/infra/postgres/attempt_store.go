package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-attempt-service/internal/domain"
)

// uniqueViolation is the SQLSTATE raised by the one-active-attempt index.
const uniqueViolation = "23505"

type attemptModel struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID          string           `bun:"id,pk"`
	UserID      string           `bun:"user_id,notnull"`
	QuizID      string           `bun:"quiz_id,notnull"`
	State       string           `bun:"state,notnull"`
	EndReason   string           `bun:"end_reason,nullzero"`
	StartedAt   time.Time        `bun:"started_at,notnull"`
	SubmittedAt *time.Time       `bun:"submitted_at"`
	ScoredAt    *time.Time       `bun:"scored_at"`
	Answers     map[string][]int `bun:"answers,type:jsonb,notnull"`
	Quiz        domain.Quiz      `bun:"quiz,type:jsonb,notnull"`
}

type resultModel struct {
	bun.BaseModel `bun:"table:attempt_results,alias:r"`

	AttemptID    string        `bun:"attempt_id,pk"`
	UserID       string        `bun:"user_id,notnull"`
	QuizID       string        `bun:"quiz_id,notnull"`
	ScorePercent int           `bun:"score_percent,notnull"`
	Passed       bool          `bun:"passed,notnull"`
	Data         domain.Result `bun:"data,type:jsonb,notnull"`
	CreatedAt    time.Time     `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// AttemptStore persists attempts and results with bun. The partial unique index on
// attempts(user_id, quiz_id) WHERE state <> 'scored' backs the one-active-attempt rule.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Create(ctx context.Context, attempt domain.Attempt) error {
	model := toAttemptModel(attempt)
	_, err := s.db.NewInsert().Model(&model).Exec(ctx)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrAttemptAlreadyActive, "user %s quiz %s", attempt.UserID, attempt.QuizID)
	}
	return errors.Wrapf(err, "insert attempt %s", attempt.ID)
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var model attemptModel
	err := s.db.NewSelect().Model(&model).Where("a.id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "attempt %s", attemptID)
	}
	if err != nil {
		return domain.Attempt{}, errors.Wrapf(err, "select attempt %s", attemptID)
	}
	return model.toDomain(), nil
}

func (s *AttemptStore) FindActive(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	var model attemptModel
	err := s.db.NewSelect().Model(&model).
		Where("a.user_id = ?", userID).
		Where("a.quiz_id = ?", quizID).
		Where("a.state <> ?", string(domain.StateScored)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "no active attempt for user %s on quiz %s", userID, quizID)
	}
	if err != nil {
		return domain.Attempt{}, errors.Wrap(err, "find active attempt")
	}
	return model.toDomain(), nil
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of mutate.
func (s *AttemptStore) Update(ctx context.Context, attemptID string, mutate func(*domain.Attempt) error) (domain.Attempt, error) {
	var updated domain.Attempt
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var model attemptModel
		err := tx.NewSelect().Model(&model).Where("a.id = ?", attemptID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(domain.ErrAttemptNotFound, "attempt %s", attemptID)
		}
		if err != nil {
			return errors.Wrapf(err, "lock attempt %s", attemptID)
		}

		attempt := model.toDomain()
		if err := mutate(&attempt); err != nil {
			return err
		}
		next := toAttemptModel(attempt)
		if _, err := tx.NewUpdate().Model(&next).WherePK().Exec(ctx); err != nil {
			return errors.Wrapf(err, "update attempt %s", attemptID)
		}
		updated = attempt
		return nil
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return updated, nil
}

func (s *AttemptStore) ListUnscored(ctx context.Context) ([]domain.Attempt, error) {
	var models []attemptModel
	err := s.db.NewSelect().Model(&models).
		Where("a.state <> ?", string(domain.StateScored)).
		Order("a.started_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list unscored attempts")
	}
	out := make([]domain.Attempt, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *AttemptStore) SaveResult(ctx context.Context, result domain.Result) error {
	model := resultModel{
		AttemptID:    result.AttemptID,
		UserID:       result.UserID,
		QuizID:       result.QuizID,
		ScorePercent: result.ScorePercent,
		Passed:       result.Passed,
		Data:         result,
	}
	res, err := s.db.NewInsert().Model(&model).On("CONFLICT (attempt_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "insert result %s", result.AttemptID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(domain.ErrResultExists, "attempt %s", result.AttemptID)
	}
	return nil
}

func (s *AttemptStore) GetResult(ctx context.Context, attemptID string) (domain.Result, error) {
	var model resultModel
	err := s.db.NewSelect().Model(&model).Where("r.attempt_id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Result{}, errors.Wrapf(domain.ErrResultNotFound, "attempt %s", attemptID)
	}
	if err != nil {
		return domain.Result{}, errors.Wrapf(err, "select result %s", attemptID)
	}
	return model.Data, nil
}

func toAttemptModel(a domain.Attempt) attemptModel {
	answers := a.Answers
	if answers == nil {
		answers = map[string][]int{}
	}
	return attemptModel{
		ID:          a.ID,
		UserID:      a.UserID,
		QuizID:      a.QuizID,
		State:       string(a.State),
		EndReason:   string(a.EndReason),
		StartedAt:   a.StartedAt,
		SubmittedAt: a.SubmittedAt,
		ScoredAt:    a.ScoredAt,
		Answers:     answers,
		Quiz:        a.Quiz,
	}
}

func (m attemptModel) toDomain() domain.Attempt {
	answers := m.Answers
	if answers == nil {
		answers = map[string][]int{}
	}
	return domain.Attempt{
		ID:          m.ID,
		UserID:      m.UserID,
		QuizID:      m.QuizID,
		State:       domain.AttemptState(m.State),
		EndReason:   domain.AttemptState(m.EndReason),
		StartedAt:   m.StartedAt,
		SubmittedAt: m.SubmittedAt,
		ScoredAt:    m.ScoredAt,
		Answers:     answers,
		Quiz:        m.Quiz,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}
