package app

import (
	"context"

	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptRepository persists attempts keyed by ID with a secondary (user, quiz) index
// that holds the single non-terminal attempt.
//
// Create fails with domain.ErrAttemptAlreadyActive while the index is occupied.
// Update applies mutate atomically against the stored attempt; an error from mutate aborts
// the write and is returned unchanged. Once an attempt is stored as scored the index entry
// is released.
type AttemptRepository interface {
	Create(ctx context.Context, attempt domain.Attempt) error
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	FindActive(ctx context.Context, userID, quizID string) (domain.Attempt, error)
	Update(ctx context.Context, attemptID string, mutate func(*domain.Attempt) error) (domain.Attempt, error)
	// ListUnscored returns every attempt that has not reached scored yet, oldest first.
	ListUnscored(ctx context.Context) ([]domain.Attempt, error)
}

// ResultRepository stores one immutable result per attempt.
// SaveResult fails with domain.ErrResultExists when a result is already recorded.
type ResultRepository interface {
	SaveResult(ctx context.Context, result domain.Result) error
	GetResult(ctx context.Context, attemptID string) (domain.Result, error)
}

// QuizService is the read-only question bank facade handed to callers.
type QuizService struct {
	quizzes QuizRepository
}

func NewQuizService(quizzes QuizRepository) *QuizService {
	return &QuizService{quizzes: quizzes}
}

// GetQuiz returns the student-safe view of a quiz. A non-empty lessonID must match the quiz's lesson.
func (s *QuizService) GetQuiz(ctx context.Context, quizID, lessonID string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if lessonID != "" && quiz.LessonID != lessonID {
		return domain.Quiz{}, errors.Wrapf(domain.ErrQuizNotFound, "quiz %s is not part of lesson %s", quizID, lessonID)
	}
	return quiz.Public(), nil
}
