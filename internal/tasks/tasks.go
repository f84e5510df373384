// Package tasks runs periodic maintenance outside the request path.
package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/erazemk/knjiznica/internal/store"
)

// Schedules holds cron expressions (minute hour dom month dow).
type Schedules struct {
	Purge   string
	Overdue string
}

// Scheduler runs the maintenance jobs on their schedules.
type Scheduler struct {
	db  *sql.DB
	now func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewScheduler registers the maintenance jobs. It does not start them.
func NewScheduler(db *sql.DB, s Schedules) (*Scheduler, error) {
	sch := &Scheduler{
		db:   db,
		now:  time.Now,
		cron: cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}

	if _, err := sch.cron.AddFunc(s.Purge, func() { sch.run("purge revoked tokens", sch.PurgeTokens) }); err != nil {
		return nil, fmt.Errorf("scheduling token purge %q: %w", s.Purge, err)
	}
	if _, err := sch.cron.AddFunc(s.Overdue, func() { sch.run("overdue summary", sch.ReportOverdue) }); err != nil {
		return nil, fmt.Errorf("scheduling overdue summary %q: %w", s.Overdue, err)
	}
	return sch, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	slog.Info("maintenance scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	slog.Info("maintenance scheduler stopped")
}

// NextRuns returns the next activation time of each job.
func (s *Scheduler) NextRuns() []time.Time {
	var next []time.Time
	for _, e := range s.cron.Entries() {
		next = append(next, e.Next)
	}
	return next
}

func (s *Scheduler) run(name string, job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := job(ctx); err != nil {
		slog.Error("maintenance job failed", "job", name, "error", err)
	}
}

// PurgeTokens removes revocations for tokens that have expired.
func (s *Scheduler) PurgeTokens(ctx context.Context) error {
	n, err := store.PurgeExpiredTokens(ctx, s.db, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("purged expired token revocations", "count", n)
	}
	return nil
}

// ReportOverdue logs every overdue loan so staff can follow up.
func (s *Scheduler) ReportOverdue(ctx context.Context) error {
	now := s.now()
	loans, err := store.OverdueLoans(ctx, s.db, now)
	if err != nil {
		return err
	}
	for _, l := range loans {
		slog.Warn("loan overdue",
			"reference", l.Reference,
			"book", l.BookTitle,
			"student", l.PatronExternalID,
			"days", int(now.Sub(l.DueDate).Hours()/24),
		)
	}
	slog.Info("overdue summary", "overdue", len(loans))
	return nil
}
