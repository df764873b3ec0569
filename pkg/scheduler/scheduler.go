package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a unit of scheduled work. Returned errors are logged and never stop
// the schedule.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron or fixed-period schedules
type Scheduler struct {
	cron     *cron.Cron
	logger   logrus.FieldLogger
	location *time.Location
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithLocation evaluates schedules in loc instead of time.Local
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock replaces time.Now for schedule arithmetic and gates
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler. Panicking jobs are recovered and overlapping
// fires of the same entry are skipped while the previous one still runs.
func New(logger logrus.FieldLogger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Scheduler{
		logger:   logger,
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLogger := cron.PrintfLogger(logger.WithField("component", "cron"))
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Location returns the time zone schedules are evaluated in
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Now returns the scheduler's current time in its location
func (s *Scheduler) Now() time.Time {
	return s.now().In(s.location)
}

// ScheduleRecurring fires job at firstFireAt and then every period after it.
// A firstFireAt in the past fires immediately. Fire times stay on the grid
// anchored at the first fire, so slow jobs do not shift later runs.
func (s *Scheduler) ScheduleRecurring(name string, job Job, firstFireAt time.Time, period time.Duration) (cron.EntryID, error) {
	if job == nil {
		return 0, errors.New("job is required")
	}
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %v", period)
	}

	schedule := &fixedPeriodSchedule{first: firstFireAt, period: period}
	id := s.cron.Schedule(schedule, s.wrap(name, job))

	s.logger.WithFields(logrus.Fields{
		"job":        name,
		"first_fire": firstFireAt.In(s.location).Format(time.RFC3339),
		"period":     period.String(),
	}).Info("Scheduled recurring job")
	return id, nil
}

// ScheduleCron fires job on a standard five field cron expression or a
// descriptor such as "@monthly"
func (s *Scheduler) ScheduleCron(name, spec string, job Job) (cron.EntryID, error) {
	if job == nil {
		return 0, errors.New("job is required")
	}
	id, err := s.cron.AddJob(spec, s.wrap(name, job))
	if err != nil {
		return 0, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.logger.WithFields(logrus.Fields{
		"job":  name,
		"spec": spec,
	}).Info("Scheduled cron job")
	return id, nil
}

// NextRun returns the next fire time of an entry, or the zero time if the
// scheduler has not been started
func (s *Scheduler) NextRun(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start begins firing scheduled jobs in a background goroutine
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop prevents further fires and waits for running jobs. If ctx expires
// first, running jobs are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

func (s *Scheduler) wrap(name string, job Job) cron.Job {
	return cron.FuncJob(func() {
		log := s.logger.WithField("job", name)
		start := time.Now()

		if err := job(s.ctx); err != nil {
			log.WithError(err).Error("Scheduled job failed")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("Scheduled job finished")
	})
}

// fixedPeriodSchedule fires at first (or immediately if first has passed
// when the schedule is armed) and then every period on a fixed grid
type fixedPeriodSchedule struct {
	first  time.Time
	period time.Duration

	mu     sync.Mutex
	armed  bool
	anchor time.Time
}

// Next implements cron.Schedule
func (f *fixedPeriodSchedule) Next(t time.Time) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed {
		f.armed = true
		f.anchor = f.first
		if f.anchor.Before(t) {
			f.anchor = t
		}
		return f.anchor
	}

	if t.Before(f.anchor) {
		return f.anchor
	}
	n := t.Sub(f.anchor)/f.period + 1
	return f.anchor.Add(n * f.period)
}
