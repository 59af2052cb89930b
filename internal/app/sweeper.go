package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically expires overdue attempts without relying on a running countdown,
// so the engine also enforces time budgets headless or after a restart. It also scores
// attempts left unscored by a failed write.
type Sweeper struct {
	service  *AttemptService
	interval time.Duration
	log      *logrus.Entry
}

func NewSweeper(service *AttemptService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		log:      logrus.WithField("component", "sweeper"),
	}
}

// Run sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.service.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns how many attempts were settled.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.service.ExpireOverdue(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
	}
	if n > 0 {
		s.log.WithField("settled", n).Info("settled overdue attempts")
	}
	return n
}
