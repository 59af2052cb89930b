package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

func TestAttemptStoreSingleActivePerUserAndQuiz(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if err := store.Create(ctx, newAttempt("a1", "u1", "quiz-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newAttempt("a2", "u1", "quiz-1")); !errors.Is(err, domain.ErrAttemptAlreadyActive) {
		t.Fatalf("expected already active, got %v", err)
	}
	if err := store.Create(ctx, newAttempt("a3", "u2", "quiz-1")); err != nil {
		t.Fatalf("other user should not be blocked: %v", err)
	}

	active, err := store.FindActive(ctx, "u1", "quiz-1")
	if err != nil || active.ID != "a1" {
		t.Fatalf("expected active a1, got %+v err=%v", active, err)
	}

	if _, err := store.Update(ctx, "a1", func(a *domain.Attempt) error {
		a.State = domain.StateScored
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := store.FindActive(ctx, "u1", "quiz-1"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected index released after scoring, got %v", err)
	}
	if err := store.Create(ctx, newAttempt("a4", "u1", "quiz-1")); err != nil {
		t.Fatalf("retake should be allowed: %v", err)
	}
}

func TestAttemptStoreUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	_ = store.Create(ctx, newAttempt("a1", "u1", "quiz-1"))

	boom := errors.New("boom")
	_, err := store.Update(ctx, "a1", func(a *domain.Attempt) error {
		a.Answers["q1"] = []int{1}
		return boom
	})
	if err != boom {
		t.Fatalf("expected mutate error returned unchanged, got %v", err)
	}
	got, _ := store.Get(ctx, "a1")
	if len(got.Answers) != 0 {
		t.Fatalf("aborted update leaked answers: %+v", got.Answers)
	}

	if _, err := store.Update(ctx, "missing", func(*domain.Attempt) error { return nil }); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	_ = store.Create(ctx, newAttempt("a1", "u1", "quiz-1"))

	got, _ := store.Get(ctx, "a1")
	got.Answers["q1"] = []int{0}
	got.State = domain.StateScored

	again, _ := store.Get(ctx, "a1")
	if again.State != domain.StateInProgress || len(again.Answers) != 0 {
		t.Fatalf("store state mutated through copy: %+v", again)
	}
}

func TestAttemptStoreListUnscored(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	_ = store.Create(ctx, newAttempt("a1", "u1", "quiz-1"))
	_ = store.Create(ctx, newAttempt("a2", "u2", "quiz-1"))
	_ = store.Create(ctx, newAttempt("a3", "u3", "quiz-1"))
	_, _ = store.Update(ctx, "a2", func(a *domain.Attempt) error {
		a.State = domain.StateScored
		return nil
	})
	// a3 ended but was never scored, so it must still be listed
	_, _ = store.Update(ctx, "a3", func(a *domain.Attempt) error {
		a.State = domain.StateSubmitted
		return nil
	})

	list, err := store.ListUnscored(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := map[string]domain.AttemptState{}
	for _, attempt := range list {
		ids[attempt.ID] = attempt.State
	}
	if len(ids) != 2 || ids["a1"] != domain.StateInProgress || ids["a3"] != domain.StateSubmitted {
		t.Fatalf("expected a1 and a3 unscored, got %+v", list)
	}
}

func TestResultStoredOnce(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if _, err := store.GetResult(ctx, "a1"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("expected result not found, got %v", err)
	}
	if err := store.SaveResult(ctx, domain.Result{AttemptID: "a1", ScorePercent: 50}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveResult(ctx, domain.Result{AttemptID: "a1", ScorePercent: 100}); !errors.Is(err, domain.ErrResultExists) {
		t.Fatalf("expected result exists, got %v", err)
	}
	got, err := store.GetResult(ctx, "a1")
	if err != nil || got.ScorePercent != 50 {
		t.Fatalf("expected first result kept, got %+v err=%v", got, err)
	}
}

func newAttempt(id, userID, quizID string) domain.Attempt {
	return domain.Attempt{
		ID:        id,
		UserID:    userID,
		QuizID:    quizID,
		State:     domain.StateInProgress,
		StartedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Answers:   map[string][]int{},
		Quiz:      sampleQuiz(),
	}
}
