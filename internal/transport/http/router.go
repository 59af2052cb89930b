package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/domain"
)

const requestTimeout = 30 * time.Second

type userKey struct{}

// UserID returns the authenticated caller stored by the auth middleware.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

// Server exposes the quiz and attempt use cases over REST and websocket.
type Server struct {
	quizzes  *app.QuizService
	attempts *app.AttemptService
	auth     auth.Authenticator
	ws       *WSHandler
	origins  []string
	log      *logrus.Entry
}

func NewServer(quizzes *app.QuizService, attempts *app.AttemptService, authenticator auth.Authenticator, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{
		quizzes:  quizzes,
		attempts: attempts,
		auth:     authenticator,
		ws:       NewWSHandler(attempts),
		origins:  allowedOrigins,
		log:      logrus.WithField("component", "http"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/ws", s.ws.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/quizzes/{quizID}", s.getQuiz)
			r.Route("/attempts", func(r chi.Router) {
				r.Post("/", s.startAttempt)
				r.Route("/{attemptID}", func(r chi.Router) {
					r.Get("/", s.getAttempt)
					r.Post("/answers", s.recordAnswer)
					r.Post("/submit", s.submitAttempt)
					r.Post("/abandon", s.abandonAttempt)
					r.Post("/resume", s.resumeAttempt)
					r.Get("/result", s.getResult)
				})
			})
		})
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch result := s.auth.Authenticate(r).(type) {
		case domain.Authenticated:
			ctx := context.WithValue(r.Context(), userKey{}, result.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		case domain.Rejected:
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: result.Reason})
		default:
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "unknown caller"})
		}
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toErrorResponse(err)
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
