// Package schedule runs the recurring registration import and full scan.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Job is one scheduled run. Its error is logged; the schedule continues.
type Job func(ctx context.Context) error

// Scheduler runs jobs on six field cron expressions (with seconds) in UTC.
// A job that is still running when it is due again is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger hclog.Logger
	ctx    context.Context
}

// New creates a scheduler.
func New(logger hclog.Logger) *Scheduler {
	cronLogger := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers job under name.
func (s *Scheduler) Add(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		s.logger.Info("scheduled job started", "job", name)
		if err := job(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err, "duration", time.Since(started))
			return
		}
		s.logger.Info("scheduled job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	return nil
}

// Next returns when the job added as number i (0 based) runs next.
func (s *Scheduler) Next(i int) time.Time {
	entries := s.cron.Entries()
	if i < 0 || i >= len(entries) {
		return time.Time{}
	}
	return entries[i].Schedule.Next(time.Now().UTC())
}

// Run starts the scheduler and blocks until ctx is done. Running jobs get
// ctx and are awaited on shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// cronLogger adapts hclog to cron.Logger.
type cronLogger struct {
	logger hclog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
