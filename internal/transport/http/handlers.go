package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"quiz-attempt-service/internal/domain"
)

type attemptView struct {
	ID                   string              `json:"id"`
	QuizID               string              `json:"quizId"`
	State                domain.AttemptState `json:"state"`
	EndReason            domain.AttemptState `json:"endReason,omitempty"`
	StartedAt            time.Time           `json:"startedAt"`
	Deadline             time.Time           `json:"deadline"`
	TimeRemainingSeconds int                 `json:"timeRemainingSeconds"`
	Answers              map[string][]int    `json:"answers"`
	Quiz                 domain.Quiz         `json:"quiz"`
}

func newAttemptView(attempt domain.Attempt, remaining int) attemptView {
	return attemptView{
		ID:                   attempt.ID,
		QuizID:               attempt.QuizID,
		State:                attempt.State,
		EndReason:            attempt.EndReason,
		StartedAt:            attempt.StartedAt,
		Deadline:             attempt.Deadline(),
		TimeRemainingSeconds: remaining,
		Answers:              attempt.Answers,
		Quiz:                 attempt.Quiz.Public(),
	}
}

type startRequest struct {
	QuizID string `json:"quizId"`
}

type answerRequest struct {
	QuestionID      string `json:"questionId"`
	SelectedIndices []int  `json:"selectedIndices"`
}

type answerAck struct {
	AttemptID            string `json:"attemptId"`
	QuestionID           string `json:"questionId"`
	SelectedIndices      []int  `json:"selectedIndices"`
	TimeRemainingSeconds int    `json:"timeRemainingSeconds"`
}

func (s *Server) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.quizzes.GetQuiz(r.Context(), chi.URLParam(r, "quizID"), r.URL.Query().Get("lessonId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) startAttempt(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "body must be {\"quizId\": \"...\"}"})
		return
	}
	attempt, err := s.attempts.Start(r.Context(), UserID(r.Context()), req.QuizID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttemptView(attempt, s.attempts.TimeRemaining(attempt)))
}

func (s *Server) getAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.attempts.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(attempt, s.attempts.TimeRemaining(attempt)))
}

func (s *Server) recordAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "body must be {\"questionId\": \"...\", \"selectedIndices\": [...]}"})
		return
	}
	attemptID := chi.URLParam(r, "attemptID")
	attempt, err := s.attempts.RecordAnswer(r.Context(), attemptID, UserID(r.Context()), req.QuestionID, req.SelectedIndices)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	selected := attempt.Answers[req.QuestionID]
	if selected == nil {
		selected = []int{}
	}
	writeJSON(w, http.StatusOK, answerAck{
		AttemptID:            attempt.ID,
		QuestionID:           req.QuestionID,
		SelectedIndices:      selected,
		TimeRemainingSeconds: s.attempts.TimeRemaining(attempt),
	})
}

func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, userID := chi.URLParam(r, "attemptID"), UserID(r.Context())
	if _, err := s.attempts.Submit(r.Context(), attemptID, userID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeReport(w, r, attemptID, userID)
}

func (s *Server) abandonAttempt(w http.ResponseWriter, r *http.Request) {
	if err := s.attempts.Abandon(r.Context(), chi.URLParam(r, "attemptID"), UserID(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.attempts.Resume(r.Context(), chi.URLParam(r, "attemptID"), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(attempt, s.attempts.TimeRemaining(attempt)))
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	s.writeReport(w, r, chi.URLParam(r, "attemptID"), UserID(r.Context()))
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, attemptID, userID string) {
	report, err := s.attempts.Report(r.Context(), attemptID, userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
