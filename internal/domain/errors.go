package domain

import "github.com/pkg/errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned for an unknown attempt ID.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrResultNotFound is returned when an attempt has not been scored yet.
	ErrResultNotFound = errors.New("result not found")
	// ErrAttemptAlreadyActive is returned by start while a non-terminal attempt exists for the same user and quiz.
	ErrAttemptAlreadyActive = errors.New("attempt already active")
	// ErrInvalidState is returned when the attempt is not in the state an operation requires.
	ErrInvalidState = errors.New("invalid attempt state")
	// ErrUnknownQuestion indicates an answer references a question outside the quiz.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrInvalidOptionIndex indicates an answer selects an option that does not exist.
	ErrInvalidOptionIndex = errors.New("invalid option index")
	// ErrUnauthorized is returned when the caller does not own the attempt.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidQuiz wraps quiz definitions that break the question invariants.
	ErrInvalidQuiz = errors.New("invalid quiz definition")
	// ErrResultExists is returned by stores when a result was already recorded for an attempt.
	ErrResultExists = errors.New("result already recorded")
)

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrQuizNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrResultNotFound)
}
