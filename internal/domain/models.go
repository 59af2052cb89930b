package domain

import (
	"sort"
	"time"
)

// QuestionKind enumerates the supported question formats.
type QuestionKind string

const (
	KindSingle    QuestionKind = "single"
	KindMultiple  QuestionKind = "multiple"
	KindTrueFalse QuestionKind = "true_false"
)

// Question models a scored question whose options are addressed by index.
type Question struct {
	ID             string       `json:"id" yaml:"id"`
	Kind           QuestionKind `json:"kind" yaml:"kind"`
	Prompt         string       `json:"prompt" yaml:"prompt"`
	Options        []string     `json:"options" yaml:"options"`
	CorrectAnswers []int        `json:"correctAnswers,omitempty" yaml:"correctAnswers"`
	Points         int          `json:"points" yaml:"points"`
	Explanation    string       `json:"explanation,omitempty" yaml:"explanation"`
}

// Quiz is an ordered collection of questions with a time budget and a passing threshold.
type Quiz struct {
	ID                  string     `json:"id" yaml:"id"`
	CourseID            string     `json:"courseId,omitempty" yaml:"courseId"`
	LessonID            string     `json:"lessonId,omitempty" yaml:"lessonId"`
	Title               string     `json:"title" yaml:"title"`
	Description         string     `json:"description,omitempty" yaml:"description"`
	Questions           []Question `json:"questions" yaml:"questions"`
	TimeLimitSeconds    int        `json:"timeLimitSeconds" yaml:"timeLimitSeconds"`
	PassingScorePercent int        `json:"passingScorePercent" yaml:"passingScorePercent"`
}

// TotalPoints is the scoring denominator.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// TimeLimit returns the time budget as a duration.
func (q Quiz) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Question looks up a question by ID.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Clone returns a deep copy so a snapshot never shares backing arrays with the bank.
func (q Quiz) Clone() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		question.CorrectAnswers = append([]int(nil), question.CorrectAnswers...)
		out.Questions[i] = question
	}
	return out
}

// Public strips answer keys and explanations so the quiz can be shown before scoring.
func (q Quiz) Public() Quiz {
	out := q.Clone()
	for i := range out.Questions {
		out.Questions[i].CorrectAnswers = nil
		out.Questions[i].Explanation = ""
	}
	return out
}

// AttemptState is a node of the attempt lifecycle.
type AttemptState string

const (
	StateNotStarted AttemptState = "not_started"
	StateInProgress AttemptState = "in_progress"
	StateSubmitted  AttemptState = "submitted"
	StateExpired    AttemptState = "expired"
	StateScored     AttemptState = "scored"
)

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return s == StateScored
}

// Attempt is one user's bounded session of answering a quiz.
type Attempt struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	QuizID      string           `json:"quizId"`
	State       AttemptState     `json:"state"`
	StartedAt   time.Time        `json:"startedAt"`
	SubmittedAt *time.Time       `json:"submittedAt,omitempty"`
	ScoredAt    *time.Time       `json:"scoredAt,omitempty"`
	EndReason   AttemptState     `json:"endReason,omitempty"`
	Answers     map[string][]int `json:"answers"`
	// Quiz is the snapshot taken at start; scoring always uses it.
	Quiz Quiz `json:"quiz"`
}

// Deadline is the instant the time budget runs out.
func (a Attempt) Deadline() time.Time {
	return a.StartedAt.Add(a.Quiz.TimeLimit())
}

// TimeRemaining returns the whole seconds left at now, rounded up and never negative.
func (a Attempt) TimeRemaining(now time.Time) int {
	return SecondsUntil(a.Deadline(), now)
}

// SecondsUntil returns the whole seconds from now to deadline, rounded up, or zero once passed.
func SecondsUntil(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

// Overdue reports whether the deadline has passed at now.
func (a Attempt) Overdue(now time.Time) bool {
	return !now.Before(a.Deadline())
}

// NormalizeSelection returns the sorted set of indices with duplicates removed.
func NormalizeSelection(selected []int) []int {
	out := make([]int, 0, len(selected))
	seen := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// QuestionResult is the per-question outcome of scoring.
type QuestionResult struct {
	QuestionID    string `json:"questionId"`
	UserAnswer    []int  `json:"userAnswer"`
	CorrectAnswer []int  `json:"correctAnswer"`
	IsCorrect     bool   `json:"isCorrect"`
	PointsAwarded int    `json:"pointsAwarded"`
}

// Result is the immutable outcome of a scored attempt.
type Result struct {
	AttemptID    string           `json:"attemptId"`
	UserID       string           `json:"userId"`
	QuizID       string           `json:"quizId"`
	CourseID     string           `json:"courseId,omitempty"`
	ScorePercent int              `json:"scorePercent"`
	EarnedPoints int              `json:"earnedPoints"`
	TotalPoints  int              `json:"totalPoints"`
	Passed       bool             `json:"passed"`
	Questions    []QuestionResult `json:"questions"`
}

// QuizCompleted is raised once per scored attempt for completion tracking.
type QuizCompleted struct {
	UserID       string    `json:"userId"`
	QuizID       string    `json:"quizId"`
	CourseID     string    `json:"courseId"`
	AttemptID    string    `json:"attemptId"`
	Passed       bool      `json:"passed"`
	ScorePercent int       `json:"scorePercent"`
	CompletedAt  time.Time `json:"completedAt"`
}

// Tick is a countdown update for display.
type Tick struct {
	AttemptID            string `json:"attemptId"`
	TimeRemainingSeconds int    `json:"timeRemainingSeconds"`
}
