// Package scheduler runs the daily housekeeping of the bridge: session
// history retention and log file rotation.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/ladderbridge/internal/config"
	"github.com/energizer-project/ladderbridge/internal/util"
)

const defaultCleanupHour = 4

// Pruner removes finished sessions older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	history config.HistoryConfig
	logging config.LoggingConfig
	pruner  Pruner
	logger  zerolog.Logger

	now func() time.Time
}

// NewScheduler creates a scheduler. pruner may be nil when the history is
// disabled; log rotation still runs.
func NewScheduler(history config.HistoryConfig, logging config.LoggingConfig, pruner Pruner) *Scheduler {
	return &Scheduler{
		history: history,
		logging: logging,
		pruner:  pruner,
		now:     time.Now,
		logger:  util.ComponentLogger("scheduler"),
	}
}

// Start runs the daily cleanup until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	for {
		next := s.nextCleanupTime()
		s.logger.Debug().Time("next_run", next).Msg("cleanup scheduled")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunCleanup(ctx)
		}
	}
}

// RunCleanup prunes the history and rotates the log directory once.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	var pruned int64
	if s.pruner != nil && s.history.RetentionDays > 0 {
		cutoff := s.now().AddDate(0, 0, -s.history.RetentionDays)
		n, err := s.pruner.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Msg("history cleanup failed")
		}
		pruned = n
	}

	removedLogs := util.CleanOldLogs(s.logging.Directory, s.logging.MaxBackups)

	s.logger.Info().
		Int64("sessions_pruned", pruned).
		Int("logs_removed", removedLogs).
		Msg("daily cleanup completed")
}

// nextCleanupTime returns the next occurrence of the configured cleanup
// time of day.
func (s *Scheduler) nextCleanupTime() time.Time {
	hour, minute := defaultCleanupHour, 0
	if t, err := time.Parse("15:04", s.history.CleanupTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
