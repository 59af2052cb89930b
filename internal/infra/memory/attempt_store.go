package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository and app.ResultRepository.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	active   map[activeKey]string
	results  map[string]domain.Result
}

type activeKey struct {
	userID string
	quizID string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
		active:   make(map[activeKey]string),
		results:  make(map[string]domain.Result),
	}
}

func (s *AttemptStore) Create(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey{userID: attempt.UserID, quizID: attempt.QuizID}
	if id, ok := s.active[key]; ok {
		return errors.Wrapf(domain.ErrAttemptAlreadyActive, "attempt %s", id)
	}
	s.attempts[attempt.ID] = cloneAttempt(attempt)
	if !attempt.State.Terminal() {
		s.active[key] = attempt.ID
	}
	return nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "attempt %s", attemptID)
	}
	return cloneAttempt(attempt), nil
}

func (s *AttemptStore) FindActive(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	s.mu.RLock()
	id, ok := s.active[activeKey{userID: userID, quizID: quizID}]
	s.mu.RUnlock()
	if !ok {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "no active attempt for user %s on quiz %s", userID, quizID)
	}
	return s.Get(ctx, id)
}

func (s *AttemptStore) Update(_ context.Context, attemptID string, mutate func(*domain.Attempt) error) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "attempt %s", attemptID)
	}
	working := cloneAttempt(stored)
	if err := mutate(&working); err != nil {
		return domain.Attempt{}, err
	}
	s.attempts[attemptID] = working
	if working.State.Terminal() {
		key := activeKey{userID: working.UserID, quizID: working.QuizID}
		if s.active[key] == attemptID {
			delete(s.active, key)
		}
	}
	return cloneAttempt(working), nil
}

func (s *AttemptStore) ListUnscored(_ context.Context) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, attempt := range s.attempts {
		if !attempt.State.Terminal() {
			out = append(out, cloneAttempt(attempt))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *AttemptStore) SaveResult(_ context.Context, result domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.AttemptID]; ok {
		return errors.Wrapf(domain.ErrResultExists, "attempt %s", result.AttemptID)
	}
	s.results[result.AttemptID] = result
	return nil
}

func (s *AttemptStore) GetResult(_ context.Context, attemptID string) (domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[attemptID]
	if !ok {
		return domain.Result{}, errors.Wrapf(domain.ErrResultNotFound, "attempt %s", attemptID)
	}
	return result, nil
}

// cloneAttempt keeps stored state private to the store.
func cloneAttempt(a domain.Attempt) domain.Attempt {
	out := a
	out.Answers = make(map[string][]int, len(a.Answers))
	for questionID, selected := range a.Answers {
		out.Answers[questionID] = append([]int(nil), selected...)
	}
	out.Quiz = a.Quiz.Clone()
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		out.SubmittedAt = &t
	}
	if a.ScoredAt != nil {
		t := *a.ScoredAt
		out.ScoredAt = &t
	}
	return out
}
