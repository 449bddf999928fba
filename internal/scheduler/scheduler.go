// Package scheduler runs the daily background maintenance: journal
// retention and a summary of the link's activity.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
)

// Journal is the subset of the event journal the scheduler maintains.
type Journal interface {
	Prune(cutoff time.Time) (int64, error)
	CountByType() (map[string]int, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     config.JournalConfig
	journal Journal
	now     func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.JournalConfig, journal Journal) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		journal: journal,
		now:     time.Now,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.journal == nil || !s.cfg.Enabled {
		log.Info().Msg("scheduler has nothing to do")
		return
	}

	log.Info().Msg("scheduler started")
	go s.runStatsLoop(ctx)
	s.runJournalCleanerLoop(ctx)
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runJournalCleanerLoop(ctx context.Context) {
	for {
		nextRun := NextRun(s.cfg.CleanupTime, s.now())
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("journal cleaner scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.PruneJournal()
		}
	}
}

// PruneJournal deletes journal entries older than the retention window.
func (s *Scheduler) PruneJournal() int64 {
	days := s.cfg.RetentionDays
	if days <= 0 {
		return 0
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	n, err := s.journal.Prune(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("journal cleaner failed")
		return 0
	}

	log.Info().
		Int64("deleted_entries", n).
		Int("retention_days", days).
		Msg("journal cleaner completed")
	return n
}

func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats()
		}
	}
}

func (s *Scheduler) collectStats() {
	counts, err := s.journal.CountByType()
	if err != nil {
		log.Warn().Err(err).Msg("failed to collect daily stats")
		return
	}

	ev := log.Info()
	for t, n := range counts {
		ev = ev.Int(t, n)
	}
	ev.Msg("daily link stats collected")
}

// NextRun returns the first time at or after now matching clock, an
// "HH:MM" string. Unparseable values fall back to 04:00.
func NextRun(clock string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(clock, ":")
	if len(parts) == 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if next.Before(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
