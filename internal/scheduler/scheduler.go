// Package scheduler provides background maintenance scheduling for the
// negotiation engine.
//
// It runs expired-negotiation eviction and analytics refresh on a fixed
// cron interval, independent of per-turn processing.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs maintenance every ten minutes.
const DefaultSweepSpec = "*/10 * * * *"

// Maintainable is the surface the sweep drives; the conversation state
// store implements it.
type Maintainable interface {
	EvictExpired() int
	RefreshAnalytics()
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleMaintenance wires the eviction and analytics sweep for a store.
func (s *Scheduler) ScheduleMaintenance(expr string, target Maintainable) error {
	if expr == "" {
		expr = DefaultSweepSpec
	}
	return s.AddJob(expr, func() {
		evicted := target.EvictExpired()
		target.RefreshAnalytics()
		slog.Debug("Maintenance sweep completed", "evicted", evicted)
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
