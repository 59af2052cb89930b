package cli

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisstore "quiz-attempt-service/internal/infra/redis"
)

// NewSeedCmd loads quiz definitions from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Validate quizzes from a YAML file and upsert them into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "quiz YAML file (defaults to quiz.seedFile)")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()
	if file == "" {
		file = cfg.Quiz.SeedFile
	}
	if file == "" {
		return errors.New("no quiz file given: pass --file or set quiz.seedFile")
	}
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	source, err := memory.LoadQuizFile(file)
	if err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer pool.Close()
	loader := pgstore.NewQuizLoader(pool)

	var cache *redisstore.QuizRepository
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		cache = redisstore.NewQuizRepository(client, loader, 0)
	}

	for _, quiz := range source.All() {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, quiz.ID); err != nil {
				logrus.WithError(err).WithField("quiz_id", quiz.ID).Warn("cached quiz not invalidated")
			}
		}
		logrus.WithFields(logrus.Fields{"quiz_id": quiz.ID, "questions": len(quiz.Questions)}).Info("quiz seeded")
	}
	return nil
}
