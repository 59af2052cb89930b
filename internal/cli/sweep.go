package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
)

// NewSweepCmd runs the expiry sweeper without serving HTTP, e.g. as a separate worker.
func NewSweepCmd(configPath *string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire and score in-progress attempts whose time budget ran out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}

func runSweep(ctx context.Context, configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	attempts := b.newAttemptService(cfg)
	defer attempts.Shutdown()
	sweeper := app.NewSweeper(attempts, config.TTLDuration(cfg.Attempts.SweepInterval, 30*time.Second))

	if once {
		n := sweeper.SweepOnce(ctx)
		logrus.WithField("settled", n).Info("sweep finished")
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return sweeper.Run(ctx)
}
