package app

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/domain"
)

// Notifier delivers QuizCompleted to completion tracking. Retries are the collaborator's concern.
type Notifier interface {
	Notify(ctx context.Context, event domain.QuizCompleted) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event domain.QuizCompleted) error

func (f NotifierFunc) Notify(ctx context.Context, event domain.QuizCompleted) error {
	return f(ctx, event)
}

// FanOut delivers to every notifier and reports all failures together.
func FanOut(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, event domain.QuizCompleted) error {
		var merr *multierror.Error
		for _, n := range notifiers {
			if err := n.Notify(ctx, event); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		return errors.Wrap(merr.ErrorOrNil(), "at least one notification failed")
	})
}

// Report is the caller-facing view of a scored attempt.
type Report struct {
	domain.Result
	State               domain.AttemptState `json:"state"`
	EndReason           domain.AttemptState `json:"endReason"`
	StartedAt           time.Time           `json:"startedAt"`
	ScoredAt            *time.Time          `json:"scoredAt,omitempty"`
	PassingScorePercent int                 `json:"passingScorePercent"`
	Explanations        map[string]string   `json:"explanations,omitempty"`
	Fingerprint         string              `json:"fingerprint"`
}

// Reporter formats results and raises the completion notification.
type Reporter struct {
	notifier Notifier
	clock    Clock
	log      *logrus.Entry
}

func NewReporter(notifier Notifier, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.WithField("component", "reporter")
	}
	return &Reporter{notifier: notifier, clock: SystemClock, log: log}
}

// Completed raises QuizCompleted for a scored attempt. Delivery failures are logged and
// never surface to the caller: the stored result stays authoritative.
func (r *Reporter) Completed(ctx context.Context, attempt domain.Attempt, result domain.Result) {
	if r == nil || r.notifier == nil {
		return
	}
	event := domain.QuizCompleted{
		UserID:       attempt.UserID,
		QuizID:       attempt.QuizID,
		CourseID:     attempt.Quiz.CourseID,
		AttemptID:    attempt.ID,
		Passed:       result.Passed,
		ScorePercent: result.ScorePercent,
		CompletedAt:  r.clock.Now(),
	}
	if attempt.ScoredAt != nil {
		event.CompletedAt = *attempt.ScoredAt
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt_id": attempt.ID,
			"user_id":    attempt.UserID,
			"quiz_id":    attempt.QuizID,
		}).Warn("quiz completion notification not delivered")
	}
}

// Format builds the caller-facing report.
func (r *Reporter) Format(attempt domain.Attempt, result domain.Result) Report {
	report := Report{
		Result:              result,
		State:               attempt.State,
		EndReason:           attempt.EndReason,
		StartedAt:           attempt.StartedAt,
		ScoredAt:            attempt.ScoredAt,
		PassingScorePercent: attempt.Quiz.PassingScorePercent,
	}
	for _, q := range attempt.Quiz.Questions {
		if q.Explanation == "" {
			continue
		}
		if report.Explanations == nil {
			report.Explanations = make(map[string]string)
		}
		report.Explanations[q.ID] = q.Explanation
	}
	if sum, err := Fingerprint(result); err == nil {
		report.Fingerprint = strconv.FormatUint(sum, 16)
	}
	return report
}
