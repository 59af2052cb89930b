package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) app.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward and fires every live ticker once.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		if t.stopped.Load() {
			continue
		}
		select {
		case t.ch <- now:
		default:
		}
	}
}

// waitTickersStopped fails unless every ticker handed out so far gets stopped.
func (c *fakeClock) waitTickersStopped(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		tickers := append([]*fakeTicker(nil), c.tickers...)
		c.mu.Unlock()
		running := 0
		for _, ticker := range tickers {
			if !ticker.stopped.Load() {
				running++
			}
		}
		if running == 0 {
			if len(tickers) == 0 {
				t.Fatalf("no ticker was ever started")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d of %d tickers still running", running, len(tickers))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type recordingNotifier struct {
	events chan domain.QuizCompleted
	fail   atomic.Bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan domain.QuizCompleted, 64)}
}

func (n *recordingNotifier) Notify(_ context.Context, event domain.QuizCompleted) error {
	n.events <- event
	if n.fail.Load() {
		return context.DeadlineExceeded
	}
	return nil
}

func (n *recordingNotifier) next(t *testing.T) domain.QuizCompleted {
	t.Helper()
	select {
	case event := <-n.events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for quiz completion")
		return domain.QuizCompleted{}
	}
}

func (n *recordingNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case event := <-n.events:
		t.Fatalf("unexpected notification %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

// flakyResults fails the next SaveResult calls while failures is positive.
type flakyResults struct {
	app.ResultRepository
	failures atomic.Int32
}

func (r *flakyResults) SaveResult(ctx context.Context, result domain.Result) error {
	if r.failures.Add(-1) >= 0 {
		return errors.New("result store unavailable")
	}
	return r.ResultRepository.SaveResult(ctx, result)
}

type harness struct {
	service  *app.AttemptService
	quizzes  *memory.QuizRepository
	loader   *memory.StaticQuizLoader
	store    *memory.AttemptStore
	results  *flakyResults
	notifier *recordingNotifier
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loader:   memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": twoQuestionQuiz()}),
		store:    memory.NewAttemptStore(),
		notifier: newRecordingNotifier(),
		clock:    newFakeClock(),
	}
	// zero ttl: every read goes back to the loader, so edits are visible immediately
	h.quizzes = memory.NewQuizRepository(h.loader, 0)
	reporter := app.NewReporter(h.notifier, nil)
	h.results = &flakyResults{ResultRepository: h.store}
	h.service = app.NewAttemptService(h.quizzes, h.store, h.results, reporter, app.WithClock(h.clock))
	t.Cleanup(h.service.Shutdown)
	return h
}

// twoQuestionQuiz: 10 points each, 70% to pass, one minute budget.
func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                  "quiz-1",
		CourseID:            "course-1",
		LessonID:            "lesson-1",
		Title:               "Go basics",
		TimeLimitSeconds:    60,
		PassingScorePercent: 70,
		Questions: []domain.Question{
			{
				ID:             "q1",
				Kind:           domain.KindSingle,
				Prompt:         "Which keyword starts a goroutine?",
				Options:        []string{"go", "async", "spawn"},
				CorrectAnswers: []int{0},
				Points:         10,
				Explanation:    "go f() runs f concurrently",
			},
			{
				ID:             "q2",
				Kind:           domain.KindMultiple,
				Prompt:         "Which are reference types?",
				Options:        []string{"map", "array", "slice", "struct"},
				CorrectAnswers: []int{0, 2},
				Points:         10,
			},
		},
	}
}
