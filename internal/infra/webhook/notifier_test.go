package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/domain"
)

func TestNotifierPostsEvent(t *testing.T) {
	type request struct {
		method string
		key    string
		body   []byte
	}
	received := make(chan request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- request{method: r.Method, key: r.Header.Get("Idempotency-Key"), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	event := domain.QuizCompleted{UserID: "u1", QuizID: "quiz-1", AttemptID: "a1", Passed: true, ScorePercent: 90, CompletedAt: time.Now().UTC()}
	require.NoError(t, NewNotifier(server.URL, time.Second, 0).Notify(context.Background(), event))

	r := <-received
	require.Equal(t, http.MethodPost, r.method)
	require.Equal(t, "a1", r.key)
	var got domain.QuizCompleted
	require.NoError(t, json.Unmarshal(r.body, &got))
	require.Equal(t, "a1", got.AttemptID)
	require.True(t, got.Passed)
	require.Equal(t, 90, got.ScorePercent)
}

func TestNotifierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewNotifier(server.URL, time.Second, 3).Notify(context.Background(), domain.QuizCompleted{AttemptID: "a1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

func TestNotifierReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewNotifier(server.URL, time.Second, 2).Notify(context.Background(), domain.QuizCompleted{AttemptID: "a1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
}
