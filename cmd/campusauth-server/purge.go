package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type sessionPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// purge deletes sessions that expired more than retention ago, once per
// tick, until ctx ends.
func purge(ctx context.Context, p sessionPurger, every, retention time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purgeOnce(ctx, p, now, retention, logger)
		}
	}
}

func purgeOnce(ctx context.Context, p sessionPurger, now time.Time, retention time.Duration, logger *zap.Logger) {
	if retention < 0 {
		retention = 0
	}
	cutoff := now.Add(-retention)
	n, err := p.PurgeExpired(ctx, cutoff)
	if err != nil {
		logger.Warn("session purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("expired sessions purged", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
}
