package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-auth-nosql/internal/config"
)

type expiredSweeper interface {
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper periodically deletes refresh records that expired more than
// Retention ago. Recently expired rows are kept so a late replay of a
// rotated token can still be recognised for a while.
type Sweeper struct {
	tokens   expiredSweeper
	interval time.Duration
	keep     time.Duration
	now      func() time.Time
}

func NewSweeper(tokens expiredSweeper, cfg config.Sweep) *Sweeper {
	return &Sweeper{tokens: tokens, interval: cfg.Interval, keep: cfg.Retention, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("refresh token sweeper disabled")
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.keep)
	n, err := s.tokens.SweepExpired(ctx, cutoff)
	if err != nil {
		slog.Error("refresh token sweep failed", "err", err)
		return n
	}
	if n > 0 {
		slog.Info("swept expired refresh tokens", "count", n, "cutoff", cutoff)
	}
	return n
}
