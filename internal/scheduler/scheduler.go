// Package scheduler runs the daemon's recurring maintenance jobs on
// cron schedules: the periodic stats rollup and anything else the daemon
// registers at startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/supportflow-io/supportflow/internal/store"
	"github.com/supportflow-io/supportflow/pkg/protocol"
)

// Scheduler manages named cron jobs.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	logger *slog.Logger
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]cron.EntryID),
		logger: logger,
	}
}

// Start begins running registered jobs. Blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// AddJob registers a named job. The schedule is a standard cron
// expression or a predefined one like "@every 1h". Registering a name
// again replaces the previous job.
func (s *Scheduler) AddJob(name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("job fired", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", schedule, name, err)
	}

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob unregisters a named job; unknown names are a no-op.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RegisterStatsRollup adds the periodic interaction-stats summary job:
// every tick it aggregates the last windowDays of interaction logs and
// writes one operator log line.
func (s *Scheduler) RegisterStatsRollup(st store.Store, schedule string, windowDays int) error {
	return s.AddJob("stats-rollup", schedule, func() {
		stats, err := st.GetStats(windowDays)
		if err != nil {
			s.logger.Error("stats rollup failed", "error", err)
			return
		}
		s.logger.Info("interaction stats",
			"window_days", windowDays,
			"count", stats.Count,
			"avg_confidence", stats.AvgConfidence,
			"avg_latency_ms", stats.AvgLatencyMs,
			"positive", stats.ByLabel[protocol.LabelPositiveFeedback],
			"negative", stats.ByLabel[protocol.LabelNegativeFeedback],
			"query", stats.ByLabel[protocol.LabelQuery],
		)
	})
}
