// Package pruner deletes notifications older than the retention preference.
package pruner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"notify-sync-client/config"
)

// Pruner is the subset of subscription.Manager used for pruning.
type Pruner interface {
	PruneNotifications(ctx context.Context, threshold int64) (int64, error)
}

// Retention returns how long notifications are kept; 0 disables pruning.
type Retention interface {
	DeleteAfter(ctx context.Context) (time.Duration, error)
}

// Service runs the pruning loop.
type Service struct {
	cfg       config.PrunerConfig
	pruner    Pruner
	retention Retention
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewService(cfg config.PrunerConfig, pruner Pruner, retention Retention, logger *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, pruner: pruner, retention: retention, logger: logger, now: time.Now}
}

// Run prunes after the initial delay and then on every interval.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("Starting notification pruner...")
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Notification pruner shutting down.")
			return
		case <-timer.C:
			s.PruneOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PruneOnce deletes every notification older than now minus the retention.
func (s *Service) PruneOnce(ctx context.Context) int64 {
	deleteAfter, err := s.retention.DeleteAfter(ctx)
	if err != nil {
		s.logger.Errorw("failed to read retention preference", "error", err)
		return 0
	}
	if deleteAfter <= 0 {
		return 0
	}

	threshold := s.now().Add(-deleteAfter).Unix()
	deleted, err := s.pruner.PruneNotifications(ctx, threshold)
	if err != nil {
		s.logger.Errorw("failed to prune notifications", "threshold", threshold, "error", err)
		return 0
	}
	if deleted > 0 {
		s.logger.Infow("pruned notifications", "deleted", deleted, "threshold", threshold)
	}
	return deleted
}
