// Package scheduler runs the daily capture store maintenance: retention
// pruning at a configured time of day and a per-opcode traffic summary.
package scheduler

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/db"
)

// Store is the part of the capture store the scheduler maintains.
type Store interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
	CountByCode(ctx context.Context) ([]db.CodeCount, error)
}

// Scheduler manages periodic capture maintenance.
type Scheduler struct {
	store         Store
	retentionDays int
	hour, minute  int
	now           func() time.Time
	logger        zerolog.Logger
}

// NewScheduler creates a scheduler for store from the capture section.
func NewScheduler(cfg config.CaptureConfig, store Store) (*Scheduler, error) {
	hour, minute, err := config.ParseClock(cfg.CleanupTime)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:         store,
		retentionDays: cfg.RetentionDays,
		hour:          hour,
		minute:        minute,
		now:           time.Now,
		logger:        log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start prunes once, then runs the daily cleanup until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")
	s.RunCleanup(ctx)

	for {
		nextRun := s.nextRun()
		sleep := nextRun.Sub(s.now())
		s.logger.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("capture cleanup scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunCleanup(ctx)
			s.logStats(ctx)
		}
	}
}

// RunCleanup deletes captures older than the retention window.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	if s.retentionDays <= 0 {
		return
	}
	before := s.now().AddDate(0, 0, -s.retentionDays)
	n, err := s.store.Prune(ctx, before)
	if err != nil {
		s.logger.Warn().Err(err).Msg("capture cleanup failed")
		return
	}
	s.logger.Info().
		Int64("deleted_frames", n).
		Int("retention_days", s.retentionDays).
		Msg("capture cleanup completed")
}

func (s *Scheduler) logStats(ctx context.Context) {
	counts, err := s.store.CountByCode(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to collect capture stats")
		return
	}
	var frames, size int64
	for _, c := range counts {
		frames += c.Count
		size += c.Bytes
	}
	s.logger.Info().
		Int("opcodes", len(counts)).
		Str("frames", humanize.Comma(frames)).
		Str("stored", humanize.Bytes(uint64(size))).
		Msg("daily capture stats")
}

// nextRun returns the next occurrence of the cleanup time, strictly after now.
func (s *Scheduler) nextRun() time.Time {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
