package app

import (
	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"quiz-attempt-service/internal/domain"
)

// Score grades answers against the quiz. It is pure: identical inputs give identical results.
// A question earns its points only when the selected set equals the correct set exactly.
func Score(quiz domain.Quiz, answers map[string][]int) domain.Result {
	result := domain.Result{
		QuizID:    quiz.ID,
		CourseID:  quiz.CourseID,
		Questions: make([]domain.QuestionResult, 0, len(quiz.Questions)),
	}

	for _, question := range quiz.Questions {
		correct := domain.NormalizeSelection(question.CorrectAnswers)
		given := domain.NormalizeSelection(answers[question.ID])

		qr := domain.QuestionResult{
			QuestionID:    question.ID,
			UserAnswer:    given,
			CorrectAnswer: correct,
		}
		if len(given) > 0 && sameSelection(given, correct) {
			qr.IsCorrect = true
			qr.PointsAwarded = question.Points
			result.EarnedPoints += question.Points
		}
		result.TotalPoints += question.Points
		result.Questions = append(result.Questions, qr)
	}

	result.ScorePercent = percentRoundHalfUp(result.EarnedPoints, result.TotalPoints)
	result.Passed = result.ScorePercent >= quiz.PassingScorePercent
	return result
}

// Fingerprint hashes the canonical encoding of a result for audit comparisons.
func Fingerprint(result domain.Result) (uint64, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return 0, err
	}
	return xxh3.Hash(raw), nil
}

// both inputs are normalized (sorted, unique)
func sameSelection(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// percentRoundHalfUp computes round(100*earned/total) with halves rounded up, in integers.
func percentRoundHalfUp(earned, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*earned + total) / (2 * total)
}
