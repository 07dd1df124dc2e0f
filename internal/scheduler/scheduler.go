// Package scheduler runs the staff-code rotation at each cycle rollover.
//
// WHY ROTATE ON A SCHEDULE?
// The staff code proves a patron is physically at the door today. If it
// only changed when staff remembered to press "rotate", yesterday's code
// would keep working. The cron job changes it at the same instant the cycle
// key changes, so a code is valid for exactly one business day.
//
// CRON IN A FIXED ZONE:
// The venue runs on KST, which has no daylight saving. The cron runner is
// pinned to that zone, so "0 21 * * *" fires at 21:00 venue time whatever
// the host's TZ is.
//
// NO CHECK-IN CLEANUP:
// Rotation does not delete anything. Old check-ins stop mattering because
// every query is keyed by the new cycle key.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Rotator replaces the daily staff code.
type Rotator interface {
	RotateStaffCode(ctx context.Context, trigger string) (string, error)
}

const (
	TriggerSchedule = "schedule"
	jobTimeout      = 30 * time.Second
)

// Scheduler wraps a cron runner pinned to the venue's fixed zone.
type Scheduler struct {
	cron    *cron.Cron
	rotator Rotator
	logger  *slog.Logger
	spec    string
}

// New schedules rotation daily at rolloverHour:00 in loc.
func New(loc *time.Location, rolloverHour int, rotator Rotator, logger *slog.Logger) (*Scheduler, error) {
	if rolloverHour < 0 || rolloverHour > 23 {
		return nil, fmt.Errorf("scheduler: rollover hour %d out of range", rolloverHour)
	}

	// Recover turns a panicking job into a log line instead of a dead
	// process. SkipIfStillRunning drops a tick that would overlap a slow run.
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		rotator: rotator,
		logger:  logger,
		spec:    fmt.Sprintf("0 %d * * *", rolloverHour),
	}

	if _, err := s.cron.AddFunc(s.spec, s.rotate); err != nil {
		return nil, fmt.Errorf("scheduler: adding rotation job: %w", err)
	}
	return s, nil
}

// Spec returns the cron expression of the rotation job.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.String("spec", s.spec))
}

// Stop prevents new runs and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// rotate is the cron job. It has no caller context, so it makes its own
// with a deadline; a hung SQLite or Redis cannot block the next day's run.
func (s *Scheduler) rotate() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.rotator.RotateStaffCode(ctx, TriggerSchedule); err != nil {
		s.logger.Error("scheduled staff code rotation failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("staff code rotated by schedule")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

// Info is demoted to Debug; cron logs every wake-up at info level.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
