package postgres

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader loads quiz JSONB from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, errors.Wrapf(domain.ErrQuizNotFound, "quiz %s", quizID)
	}
	if err != nil {
		return domain.Quiz{}, errors.Wrapf(err, "load quiz %s", quizID)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, errors.Wrapf(err, "unmarshal quiz %s", quizID)
	}
	return quiz, nil
}

// SaveQuiz validates and upserts a quiz definition. Attempts already started keep their snapshot.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(quiz)
	if err != nil {
		return errors.Wrapf(err, "marshal quiz %s", quiz.ID)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO quizzes (id, course_id, lesson_id, data, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, now())
		ON CONFLICT (id) DO UPDATE
		SET course_id = EXCLUDED.course_id,
		    lesson_id = EXCLUDED.lesson_id,
		    data = EXCLUDED.data,
		    updated_at = now()`,
		quiz.ID, quiz.CourseID, quiz.LessonID, string(data))
	return errors.Wrapf(err, "save quiz %s", quiz.ID)
}
