package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner removes notifications whose expiry has passed
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically purges expired notifications
type Sweeper struct {
	cleaner Cleaner
	config  Config
	logger  *zap.Logger
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

func New(cleaner Cleaner, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}

	return &Sweeper{
		cleaner: cleaner,
		config:  cfg,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled, sweeping once per interval
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	deleted, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("failed to delete expired notifications", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("expired notifications deleted", zap.Int64("count", deleted))
	}
}
