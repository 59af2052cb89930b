package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}

	repo.Invalidate("quiz-1")
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 3: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls)
	}
}

func TestQuizRepositoryReloadsAfterTTL(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	repo := NewQuizRepository(loader, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls)
	}
}

func TestQuizRepositoryReturnsCopies(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute)

	first, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	first.Questions[0].CorrectAnswers[0] = 0

	second, _ := repo.GetQuiz(context.Background(), "quiz-1")
	if second.Questions[0].CorrectAnswers[0] != 1 {
		t.Fatalf("cached quiz was mutated through a returned copy")
	}
}

func TestQuizRepositoryUnknownQuiz(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(map[string]domain.Quiz{}), time.Minute)
	_, err := repo.GetQuiz(context.Background(), "missing")
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestQuizRepositoryLoadOutlivesCanceledCaller(t *testing.T) {
	loader := &blockingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
		loadErr:    make(chan error, 1),
	}
	repo := NewQuizRepository(loader, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := repo.GetQuiz(ctx, "quiz-1")
		firstErr <- err
	}()
	<-loader.started

	waiter := make(chan error, 1)
	go func() {
		_, err := repo.GetQuiz(context.Background(), "quiz-1")
		waiter <- err
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the canceled caller to give up, got %v", err)
	}
	close(loader.release)

	if err := <-loader.loadErr; err != nil {
		t.Fatalf("shared load saw the caller's cancellation: %v", err)
	}
	if err := <-waiter; err != nil {
		t.Fatalf("waiter failed: %v", err)
	}
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get cached quiz: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected one shared load, got %d", loader.calls.Load())
	}
}

func TestQuizRepositoryZeroTTLDisablesCache(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	repo := NewQuizRepository(loader, 0)

	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls != 2 {
		t.Fatalf("expected every read to load, loader calls %d", loader.calls)
	}
}

func TestLoadQuizFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizzes.yaml")
	content := `quizzes:
  - id: quiz-yaml
    courseId: course-1
    lessonId: lesson-1
    title: Seeded
    timeLimitSeconds: 120
    passingScorePercent: 50
    questions:
      - id: q1
        kind: true_false
        prompt: The sky is blue
        options: ["true", "false"]
        correctAnswers: [0]
        points: 1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	loader, err := LoadQuizFile(path)
	if err != nil {
		t.Fatalf("load quiz file: %v", err)
	}
	quiz, err := loader.LoadQuiz(context.Background(), "quiz-yaml")
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if quiz.LessonID != "lesson-1" || len(quiz.Questions) != 1 || quiz.Questions[0].Kind != domain.KindTrueFalse {
		t.Fatalf("unexpected quiz %+v", quiz)
	}
}

func TestLoadQuizFileRejectsInvalidQuiz(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizzes.yaml")
	content := `quizzes:
  - id: broken
    timeLimitSeconds: 0
    passingScorePercent: 50
    questions: []
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadQuizFile(path); !errors.Is(err, domain.ErrInvalidQuiz) {
		t.Fatalf("expected invalid quiz, got %v", err)
	}
}

// blockingLoader holds the first load until release is closed and reports its ctx state.
type blockingLoader struct {
	QuizLoader
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	loadErr chan error
}

func (l *blockingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if l.calls.Add(1) == 1 {
		close(l.started)
	}
	<-l.release
	select {
	case l.loadErr <- ctx.Err():
	default:
	}
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                  "quiz-1",
		TimeLimitSeconds:    60,
		PassingScorePercent: 50,
		Questions: []domain.Question{
			{
				ID:             "q1",
				Kind:           domain.KindSingle,
				Prompt:         "What is 2 + 2?",
				Options:        []string{"3", "4"},
				CorrectAnswers: []int{1},
				Points:         1,
			},
		},
	}
}
