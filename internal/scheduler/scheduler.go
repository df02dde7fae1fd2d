package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vkudelin/agent-registry/internal/infrastructure/observability"
	"github.com/vkudelin/agent-registry/internal/repository"
)

// Scheduler runs the periodic expired-token sweep and token-stats emission on
// its own timers, independent of request handling. A failure inside a run is
// logged and isolated; it never reaches the request path or the process.
type Scheduler struct {
	tokenRepo     repository.TokenRepository
	sweepInterval time.Duration
	statsInterval time.Duration

	sweeping atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(tokenRepo repository.TokenRepository, sweepInterval, statsInterval time.Duration) *Scheduler {
	return &Scheduler{
		tokenRepo:     tokenRepo,
		sweepInterval: sweepInterval,
		statsInterval: statsInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		sweepTicker := time.NewTicker(s.sweepInterval)
		statsTicker := time.NewTicker(s.statsInterval)
		defer sweepTicker.Stop()
		defer statsTicker.Stop()

		slog.Info("scheduler started", "sweep_interval", s.sweepInterval, "stats_interval", s.statsInterval)
		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopped")
				return
			case <-sweepTicker.C:
				s.RunSweep(ctx)
			case <-statsTicker.C:
				s.logStats(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// RunSweep deletes expired refresh-token records. A CAS guard skips the run
// when a previous sweep is still in flight.
func (s *Scheduler) RunSweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		slog.Warn("previous sweep still running, skipping")
		return
	}
	defer s.sweeping.Store(false)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during token sweep", "panic", r)
		}
	}()

	deleted, err := s.tokenRepo.SweepExpired(ctx)
	if err != nil {
		slog.Error("scheduled token sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		observability.SweptTokens.Add(float64(deleted))
		slog.Info("swept expired refresh tokens", "deleted", deleted)
	}
}

func (s *Scheduler) logStats(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during token stats", "panic", r)
		}
	}()

	stats, err := s.tokenRepo.Stats(ctx)
	if err != nil {
		slog.Error("failed to collect token stats", "error", err)
		return
	}

	observability.ActiveRefreshTokens.Set(float64(stats.Active))
	slog.Info("token statistics",
		"total", stats.Total,
		"active", stats.Active,
		"expired", stats.Expired,
		"users", len(stats.ByUser))
}
