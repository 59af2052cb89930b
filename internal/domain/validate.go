package domain

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validate checks the quiz against the question invariants and reports every violation.
// Each violation wraps ErrInvalidQuiz.
func (q Quiz) Validate() error {
	var merr *multierror.Error
	fail := func(format string, args ...interface{}) {
		merr = multierror.Append(merr, errors.Wrapf(ErrInvalidQuiz, format, args...))
	}

	if q.ID == "" {
		fail("quiz id is empty")
	}
	if q.TimeLimitSeconds <= 0 {
		fail("quiz %s: time limit must be positive, got %d", q.ID, q.TimeLimitSeconds)
	}
	if q.PassingScorePercent < 0 || q.PassingScorePercent > 100 {
		fail("quiz %s: passing score %d out of range 0-100", q.ID, q.PassingScorePercent)
	}
	if len(q.Questions) == 0 {
		fail("quiz %s: no questions", q.ID)
	}

	seen := make(map[string]struct{}, len(q.Questions))
	for i, question := range q.Questions {
		if question.ID == "" {
			fail("quiz %s: question #%d has no id", q.ID, i)
		}
		if _, dup := seen[question.ID]; dup {
			fail("quiz %s: duplicate question id %s", q.ID, question.ID)
		}
		seen[question.ID] = struct{}{}

		if question.Points <= 0 {
			fail("question %s: points must be positive, got %d", question.ID, question.Points)
		}
		if len(question.Options) == 0 {
			fail("question %s: no options", question.ID)
		}

		correct := NormalizeSelection(question.CorrectAnswers)
		if len(correct) != len(question.CorrectAnswers) {
			fail("question %s: duplicate correct answers", question.ID)
		}
		for _, idx := range correct {
			if idx < 0 || idx >= len(question.Options) {
				fail("question %s: correct answer %d out of range", question.ID, idx)
			}
		}

		switch question.Kind {
		case KindSingle:
			if len(correct) != 1 {
				fail("question %s: single choice needs exactly one correct answer, got %d", question.ID, len(correct))
			}
		case KindTrueFalse:
			if len(question.Options) != 2 {
				fail("question %s: true/false needs two options, got %d", question.ID, len(question.Options))
			}
			if len(correct) != 1 {
				fail("question %s: true/false needs exactly one correct answer, got %d", question.ID, len(correct))
			}
		case KindMultiple:
			if len(correct) == 0 {
				fail("question %s: multiple choice needs at least one correct answer", question.ID)
			}
		default:
			fail("question %s: unknown kind %q", question.ID, question.Kind)
		}
	}

	return merr.ErrorOrNil()
}
