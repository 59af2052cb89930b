package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/domain"
)

// AttemptService runs the attempt lifecycle:
// in_progress -> {submitted, expired} -> scored.
type AttemptService struct {
	quizzes  QuizRepository
	attempts AttemptRepository
	results  ResultRepository
	reporter *Reporter
	clock    Clock
	tick     time.Duration
	newID    func() string
	log      *logrus.Entry

	mu         sync.Mutex
	countdowns map[string]*Countdown
}

// Option customises an AttemptService.
type Option func(*AttemptService)

// WithClock replaces the wall clock (tests).
func WithClock(clock Clock) Option {
	return func(s *AttemptService) { s.clock = clock }
}

// WithTick sets how often countdowns publish the remaining time.
func WithTick(d time.Duration) Option {
	return func(s *AttemptService) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithIDGenerator replaces uuid attempt IDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *AttemptService) { s.newID = gen }
}

// WithLogger sets the logger entry.
func WithLogger(log *logrus.Entry) Option {
	return func(s *AttemptService) { s.log = log }
}

func NewAttemptService(quizzes QuizRepository, attempts AttemptRepository, results ResultRepository, reporter *Reporter, opts ...Option) *AttemptService {
	s := &AttemptService{
		quizzes:    quizzes,
		attempts:   attempts,
		results:    results,
		reporter:   reporter,
		clock:      SystemClock,
		tick:       time.Second,
		newID:      uuid.NewString,
		log:        logrus.WithField("component", "attempts"),
		countdowns: make(map[string]*Countdown),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = NewReporter(nil, s.log)
	}
	s.reporter.clock = s.clock
	return s
}

// Start snapshots the quiz, opens a new attempt for the user and starts its countdown.
func (s *AttemptService) Start(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.Attempt{}, err
	}
	if err := s.expireOverdue(ctx, userID, quizID); err != nil {
		return domain.Attempt{}, err
	}

	attempt := domain.Attempt{
		ID:        s.newID(),
		UserID:    userID,
		QuizID:    quizID,
		State:     domain.StateInProgress,
		StartedAt: s.clock.Now(),
		Answers:   make(map[string][]int),
		Quiz:      quiz.Clone(),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return domain.Attempt{}, err
	}
	s.startCountdown(attempt)

	s.logFor(attempt).WithField("time_limit_seconds", quiz.TimeLimitSeconds).Info("attempt started")
	return attempt, nil
}

// expireOverdue scores an active attempt whose budget already ran out, or one that ended
// but was never scored, so it cannot block a retake.
func (s *AttemptService) expireOverdue(ctx context.Context, userID, quizID string) error {
	active, err := s.attempts.FindActive(ctx, userID, quizID)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case pendingScore(active.State):
		_, err = s.finalize(ctx, active)
		return err
	case active.State == domain.StateInProgress && active.Overdue(s.clock.Now()):
		return s.Expire(ctx, active.ID)
	}
	return nil
}

var errTimeUp = errors.Wrap(domain.ErrInvalidState, "time budget exhausted")

// RecordAnswer replaces the selection for one question. An empty selection clears it.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID, userID, questionID string, selected []int) (domain.Attempt, error) {
	now := s.clock.Now()
	attempt, err := s.attempts.Update(ctx, attemptID, func(a *domain.Attempt) error {
		if a.UserID != userID {
			return errors.Wrapf(domain.ErrUnauthorized, "attempt %s", a.ID)
		}
		if a.State != domain.StateInProgress {
			return errors.Wrapf(domain.ErrInvalidState, "attempt %s is %s", a.ID, a.State)
		}
		if a.Overdue(now) {
			return errTimeUp
		}
		question, ok := a.Quiz.Question(questionID)
		if !ok {
			return errors.Wrapf(domain.ErrUnknownQuestion, "question %s", questionID)
		}
		for _, idx := range selected {
			if idx < 0 || idx >= len(question.Options) {
				return errors.Wrapf(domain.ErrInvalidOptionIndex, "question %s has no option %d", questionID, idx)
			}
		}

		normalized := domain.NormalizeSelection(selected)
		if a.Answers == nil {
			a.Answers = make(map[string][]int)
		}
		if len(normalized) == 0 {
			delete(a.Answers, questionID)
		} else {
			a.Answers[questionID] = normalized
		}
		return nil
	})
	if errors.Is(err, errTimeUp) {
		if xerr := s.Expire(ctx, attemptID); xerr != nil {
			s.log.WithError(xerr).WithField("attempt_id", attemptID).Error("expire after late answer failed")
		}
	}
	if err != nil {
		return domain.Attempt{}, err
	}
	return attempt, nil
}

// Submit ends the attempt at the caller's request and scores it.
// Submitting an attempt that is already scored returns the stored result.
func (s *AttemptService) Submit(ctx context.Context, attemptID, userID string) (domain.Result, error) {
	now := s.clock.Now()
	attempt, err := s.attempts.Update(ctx, attemptID, func(a *domain.Attempt) error {
		if a.UserID != userID {
			return errors.Wrapf(domain.ErrUnauthorized, "attempt %s", a.ID)
		}
		if a.State != domain.StateInProgress {
			return errors.Wrapf(domain.ErrInvalidState, "attempt %s is %s", a.ID, a.State)
		}
		a.State = domain.StateSubmitted
		if a.Overdue(now) {
			// the budget ran out before the countdown fired
			a.State = domain.StateExpired
		}
		a.EndReason = a.State
		a.SubmittedAt = &now
		return nil
	})
	if errors.Is(err, domain.ErrInvalidState) {
		return s.settle(ctx, attemptID, err)
	}
	if err != nil {
		return domain.Result{}, err
	}

	s.haltCountdown(attemptID)
	return s.finalize(ctx, attempt)
}

// settle answers a submit for an attempt that already left in_progress: a scored attempt
// returns its stored result, one that ended without being scored is scored now.
func (s *AttemptService) settle(ctx context.Context, attemptID string, stateErr error) (domain.Result, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.Result{}, err
	}
	switch {
	case attempt.State == domain.StateScored:
		if result, err := s.results.GetResult(ctx, attemptID); err == nil {
			return result, nil
		}
	case pendingScore(attempt.State):
		return s.finalize(ctx, attempt)
	}
	return domain.Result{}, stateErr
}

// Expire ends an in-progress attempt whose time ran out and scores the recorded answers.
// An attempt that already ended but was never scored is scored; a scored one is left alone.
func (s *AttemptService) Expire(ctx context.Context, attemptID string) error {
	now := s.clock.Now()
	attempt, err := s.attempts.Update(ctx, attemptID, func(a *domain.Attempt) error {
		if a.State != domain.StateInProgress {
			return errors.Wrapf(domain.ErrInvalidState, "attempt %s is %s", a.ID, a.State)
		}
		a.State = domain.StateExpired
		a.EndReason = domain.StateExpired
		a.SubmittedAt = &now
		return nil
	})
	if errors.Is(err, domain.ErrInvalidState) {
		current, gerr := s.attempts.Get(ctx, attemptID)
		if gerr != nil {
			return gerr
		}
		if pendingScore(current.State) {
			_, err = s.finalize(ctx, current)
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}

	s.haltCountdown(attemptID)
	_, err = s.finalize(ctx, attempt)
	return err
}

// pendingScore reports an attempt that ended but has no stored score yet.
func pendingScore(state domain.AttemptState) bool {
	return state == domain.StateSubmitted || state == domain.StateExpired
}

var errAlreadyScored = errors.New("attempt already scored")

// finalize scores an attempt that left in_progress, stores the result and marks it scored.
// It can be re-run after a failure at any step: the result is written once and only the
// call that moves the attempt to scored reports completion.
func (s *AttemptService) finalize(ctx context.Context, attempt domain.Attempt) (domain.Result, error) {
	result := Score(attempt.Quiz, attempt.Answers)
	result.AttemptID = attempt.ID
	result.UserID = attempt.UserID

	if err := s.results.SaveResult(ctx, result); err != nil {
		if !errors.Is(err, domain.ErrResultExists) {
			return domain.Result{}, errors.Wrapf(err, "save result for attempt %s", attempt.ID)
		}
		existing, gerr := s.results.GetResult(ctx, attempt.ID)
		if gerr != nil {
			return domain.Result{}, gerr
		}
		result = existing
	}

	now := s.clock.Now()
	scored, err := s.attempts.Update(ctx, attempt.ID, func(a *domain.Attempt) error {
		switch a.State {
		case domain.StateSubmitted, domain.StateExpired:
			a.State = domain.StateScored
			a.ScoredAt = &now
			return nil
		case domain.StateScored:
			return errAlreadyScored
		default:
			return errors.Wrapf(domain.ErrInvalidState, "attempt %s is %s", a.ID, a.State)
		}
	})
	if errors.Is(err, errAlreadyScored) {
		// a concurrent finalize got there first and already reported
		s.closeCountdown(attempt.ID)
		return result, nil
	}
	if err != nil {
		return domain.Result{}, errors.Wrapf(err, "mark attempt %s scored", attempt.ID)
	}
	s.closeCountdown(attempt.ID)

	s.logFor(scored).WithFields(logrus.Fields{
		"end_reason":    scored.EndReason,
		"score_percent": result.ScorePercent,
		"passed":        result.Passed,
	}).Info("attempt scored")

	s.reporter.Completed(ctx, scored, result)
	return result, nil
}

// Abandon stops the countdown but keeps the attempt in progress so it can be resumed.
func (s *AttemptService) Abandon(ctx context.Context, attemptID, userID string) error {
	attempt, err := s.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return err
	}
	if attempt.State != domain.StateInProgress {
		return errors.Wrapf(domain.ErrInvalidState, "attempt %s is %s", attempt.ID, attempt.State)
	}
	s.closeCountdown(attemptID)
	s.logFor(attempt).Info("attempt abandoned")
	return nil
}

// Resume restarts the countdown of an in-progress attempt. If the budget already ran out the
// attempt is expired instead and returned scored.
func (s *AttemptService) Resume(ctx context.Context, attemptID, userID string) (domain.Attempt, error) {
	attempt, err := s.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.State != domain.StateInProgress {
		return domain.Attempt{}, errors.Wrapf(domain.ErrInvalidState, "attempt %s is %s", attempt.ID, attempt.State)
	}
	if attempt.Overdue(s.clock.Now()) {
		if err := s.Expire(ctx, attemptID); err != nil {
			return domain.Attempt{}, err
		}
		return s.attempts.Get(ctx, attemptID)
	}
	s.startCountdown(attempt)
	return attempt, nil
}

// GetAttempt returns an attempt owned by userID.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID, userID string) (domain.Attempt, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.UserID != userID {
		return domain.Attempt{}, errors.Wrapf(domain.ErrUnauthorized, "attempt %s", attemptID)
	}
	return attempt, nil
}

// Report returns the formatted result of a scored attempt owned by userID.
func (s *AttemptService) Report(ctx context.Context, attemptID, userID string) (Report, error) {
	attempt, err := s.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return Report{}, err
	}
	result, err := s.results.GetResult(ctx, attemptID)
	if err != nil {
		return Report{}, err
	}
	return s.reporter.Format(attempt, result), nil
}

// TimeRemaining is the attempt's budget left now.
func (s *AttemptService) TimeRemaining(attempt domain.Attempt) int {
	if attempt.State != domain.StateInProgress {
		return 0
	}
	return attempt.TimeRemaining(s.clock.Now())
}

// Watch subscribes to the countdown of an attempt running on this instance.
// The channel closes once the attempt is scored or abandoned; cancel must be called.
func (s *AttemptService) Watch(ctx context.Context, attemptID, userID string) (<-chan domain.Tick, func(), error) {
	if _, err := s.GetAttempt(ctx, attemptID, userID); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	countdown, ok := s.countdowns[attemptID]
	if !ok {
		return nil, nil, errors.Wrapf(domain.ErrInvalidState, "attempt %s has no running countdown", attemptID)
	}
	ch, cancel := countdown.subscribe()
	return ch, cancel, nil
}

// Detach is called by a watcher that went away after cancelling its subscription. The
// attempt is abandoned only when no other watcher is still subscribed to its countdown.
func (s *AttemptService) Detach(ctx context.Context, attemptID, userID string) (bool, error) {
	attempt, err := s.GetAttempt(ctx, attemptID, userID)
	if err != nil {
		return false, err
	}
	if attempt.State != domain.StateInProgress {
		return false, nil
	}

	s.mu.Lock()
	countdown, ok := s.countdowns[attemptID]
	abandoned := ok && countdown.closeIfIdle()
	if abandoned {
		delete(s.countdowns, attemptID)
	}
	s.mu.Unlock()

	if abandoned {
		s.logFor(attempt).Info("attempt abandoned")
	}
	return abandoned, nil
}

// ExpireOverdue expires every in-progress attempt past its deadline, e.g. attempts abandoned
// without a running countdown, and scores attempts that ended without a stored score.
// It returns how many attempts were settled.
func (s *AttemptService) ExpireOverdue(ctx context.Context) (int, error) {
	attempts, err := s.attempts.ListUnscored(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	settled := 0
	var failures *multierror.Error
	for _, attempt := range attempts {
		switch {
		case pendingScore(attempt.State):
			_, err = s.finalize(ctx, attempt)
		case attempt.Overdue(now):
			err = s.Expire(ctx, attempt.ID)
		default:
			continue
		}
		if err != nil {
			failures = multierror.Append(failures, errors.Wrapf(err, "attempt %s", attempt.ID))
			continue
		}
		settled++
	}
	return settled, failures.ErrorOrNil()
}

// Shutdown detaches every countdown. Attempts stay in progress and can be resumed or swept.
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	countdowns := s.countdowns
	s.countdowns = make(map[string]*Countdown)
	s.mu.Unlock()
	for _, c := range countdowns {
		c.close()
	}
}

func (s *AttemptService) startCountdown(attempt domain.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.countdowns[attempt.ID]; running {
		return
	}
	attemptID := attempt.ID
	s.countdowns[attemptID] = startCountdown(attemptID, attempt.Deadline(), s.tick, s.clock, func() {
		if err := s.Expire(context.Background(), attemptID); err != nil {
			s.log.WithError(err).WithField("attempt_id", attemptID).Error("countdown expiry failed")
		}
	})
}

// haltCountdown stops ticks and expiry while keeping watchers attached until the result exists.
func (s *AttemptService) haltCountdown(attemptID string) {
	s.mu.Lock()
	countdown, ok := s.countdowns[attemptID]
	s.mu.Unlock()
	if ok {
		countdown.halt()
	}
}

func (s *AttemptService) closeCountdown(attemptID string) {
	s.mu.Lock()
	countdown, ok := s.countdowns[attemptID]
	delete(s.countdowns, attemptID)
	s.mu.Unlock()
	if ok {
		countdown.close()
	}
}

func (s *AttemptService) logFor(attempt domain.Attempt) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"user_id":    attempt.UserID,
		"quiz_id":    attempt.QuizID,
	})
}
