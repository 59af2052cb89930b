package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/config"
	transport "quiz-attempt-service/internal/transport/http"
)

const defaultUserHeader = "X-User-ID"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server (REST + websocket countdown) and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	attempts := b.newAttemptService(cfg)
	defer attempts.Shutdown()
	sweeper := app.NewSweeper(attempts, config.TTLDuration(cfg.Attempts.SweepInterval, 30*time.Second))

	api := transport.NewServer(app.NewQuizService(b.quizzes), attempts, newAuthenticator(cfg), cfg.Server.CORSOrigins)
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.Infof("starting quiz attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newAuthenticator(cfg config.Config) auth.Authenticator {
	var chain auth.Chain
	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	}
	if cfg.Auth.TrustedHeader != "" {
		chain = append(chain, auth.NewHeaderAuthenticator(cfg.Auth.TrustedHeader))
	}
	if len(chain) == 0 {
		logrus.Warnf("no auth configured, trusting the %s header", defaultUserHeader)
		chain = append(chain, auth.NewHeaderAuthenticator(defaultUserHeader))
	}
	return chain
}
