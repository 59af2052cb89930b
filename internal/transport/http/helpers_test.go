package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

const userHeader = "X-User-ID"

type testEnv struct {
	server   *httptest.Server
	attempts *app.AttemptService
}

func newTestEnv(t *testing.T, quizzes ...domain.Quiz) *testEnv {
	t.Helper()
	bank := make(map[string]domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		bank[q.ID] = q
	}
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(bank), time.Minute)
	store := memory.NewAttemptStore()
	attempts := app.NewAttemptService(quizRepo, store, store, nil, app.WithTick(20*time.Millisecond))
	t.Cleanup(attempts.Shutdown)

	srv := NewServer(app.NewQuizService(quizRepo), attempts, auth.NewHeaderAuthenticator(userHeader), nil)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	return &testEnv{server: server, attempts: attempts}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                  "quiz-1",
		CourseID:            "course-1",
		LessonID:            "lesson-1",
		Title:               "Arithmetic",
		TimeLimitSeconds:    60,
		PassingScorePercent: 50,
		Questions: []domain.Question{
			{
				ID:             "q1",
				Kind:           domain.KindSingle,
				Prompt:         "What is 2 + 2?",
				Options:        []string{"3", "4", "5"},
				CorrectAnswers: []int{1},
				Points:         1,
				Explanation:    "2 + 2 = 4",
			},
			{
				ID:             "q2",
				Kind:           domain.KindMultiple,
				Prompt:         "Which are even?",
				Options:        []string{"1", "2", "4"},
				CorrectAnswers: []int{1, 2},
				Points:         1,
			},
		},
	}
}
