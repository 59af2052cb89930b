package cli

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisstore "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/infra/webhook"
)

// backend bundles the stores chosen from config: Postgres when configured, else Redis, else memory.
type backend struct {
	redis    *redis.Client
	pool     *pgxpool.Pool
	db       *bun.DB
	quizzes  app.QuizRepository
	attempts app.AttemptRepository
	results  app.ResultRepository
	notifier app.Notifier
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}
	log := logrus.WithField("component", "backend")

	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, errors.Wrapf(err, "ping redis %s", cfg.Redis.Addr)
		}
	}

	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, errors.Wrap(err, "connect postgres")
		}
		b.pool = pool
		b.db = openBun(cfg.Postgres.URL)
		loader = pgstore.NewQuizLoader(pool)
	} else if cfg.Quiz.SeedFile != "" {
		fileLoader, err := memory.LoadQuizFile(cfg.Quiz.SeedFile)
		if err != nil {
			b.Close()
			return nil, err
		}
		loader = fileLoader
	} else {
		log.Warn("no postgres or seed file configured, serving the built-in sample quiz")
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	switch {
	case b.redis != nil:
		b.quizzes = redisstore.NewQuizRepository(b.redis, loader, quizTTL)
	default:
		b.quizzes = memory.NewQuizRepository(loader, quizTTL)
	}

	switch {
	case b.db != nil:
		store := pgstore.NewAttemptStore(b.db)
		b.attempts, b.results = store, store
		log.Info("attempts stored in postgres")
	case b.redis != nil:
		store := redisstore.NewAttemptStore(b.redis)
		b.attempts, b.results = store, store
		log.Info("attempts stored in redis")
	default:
		store := memory.NewAttemptStore()
		b.attempts, b.results = store, store
		log.Warn("attempts stored in memory, they will not survive a restart")
	}

	notifiers := []app.Notifier{logNotifier()}
	if b.redis != nil {
		notifiers = append(notifiers, redisstore.NewNotifier(b.redis, cfg.Notify.RedisChannel))
	}
	if cfg.Notify.WebhookURL != "" {
		timeout := config.TTLDuration(cfg.Notify.Timeout, 5*time.Second)
		notifiers = append(notifiers, webhook.NewNotifier(cfg.Notify.WebhookURL, timeout, cfg.Notify.Retries))
	}
	b.notifier = app.FanOut(notifiers...)
	return b, nil
}

func (b *backend) newAttemptService(cfg config.Config) *app.AttemptService {
	reporter := app.NewReporter(b.notifier, nil)
	return app.NewAttemptService(b.quizzes, b.attempts, b.results, reporter,
		app.WithTick(config.TTLDuration(cfg.Attempts.Tick, time.Second)))
}

func (b *backend) Close() error {
	var merr *multierror.Error
	if b.redis != nil {
		merr = multierror.Append(merr, b.redis.Close())
	}
	if b.db != nil {
		merr = multierror.Append(merr, b.db.Close())
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return merr.ErrorOrNil()
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func logNotifier() app.Notifier {
	log := logrus.WithField("component", "completion")
	return app.NotifierFunc(func(_ context.Context, event domain.QuizCompleted) error {
		log.WithFields(logrus.Fields{
			"attempt_id":    event.AttemptID,
			"user_id":       event.UserID,
			"quiz_id":       event.QuizID,
			"course_id":     event.CourseID,
			"passed":        event.Passed,
			"score_percent": event.ScorePercent,
		}).Info("quiz completed")
		return nil
	})
}

// sampleQuizzes is served when neither Postgres nor a seed file is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:                  "quiz-1",
			CourseID:            "course-1",
			LessonID:            "lesson-1",
			Title:               "Arithmetic warm-up",
			TimeLimitSeconds:    120,
			PassingScorePercent: 50,
			Questions: []domain.Question{
				{
					ID:             "q1",
					Kind:           domain.KindSingle,
					Prompt:         "What is 2 + 2?",
					Options:        []string{"3", "4", "5"},
					CorrectAnswers: []int{1},
					Points:         1,
				},
				{
					ID:             "q2",
					Kind:           domain.KindMultiple,
					Prompt:         "Which numbers are even?",
					Options:        []string{"2", "3", "4"},
					CorrectAnswers: []int{0, 2},
					Points:         2,
				},
				{
					ID:             "q3",
					Kind:           domain.KindTrueFalse,
					Prompt:         "A Go map is safe for concurrent writes.",
					Options:        []string{"true", "false"},
					CorrectAnswers: []int{1},
					Points:         1,
				},
			},
		},
	}
}
