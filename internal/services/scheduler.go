package services

import (
	"context"
	"fmt"
	"time"

	"channel-gate/pkg/logging"

	"github.com/robfig/cron/v3"
)

// Sweeper runs an expiry sweep
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (SweepReport, error)
}

// Scheduler triggers sweeps on a cron cadence and on demand
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	spec    string
	now     func() time.Time
}

// NewScheduler parses spec in location and registers the sweep job
func NewScheduler(sweeper Sweeper, spec string, location *time.Location) (*Scheduler, error) {
	if location == nil {
		location = time.UTC
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		sweeper: sweeper,
		spec:    spec,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid expiry schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if _, err := s.RunNow(context.Background()); err != nil {
		logging.Errorf("Scheduled sweep failed: %v", err)
	}
}

// RunNow runs a sweep immediately
func (s *Scheduler) RunNow(ctx context.Context) (SweepReport, error) {
	return s.sweeper.Sweep(ctx, s.now())
}

// Next returns when the next scheduled sweep fires; zero before Run starts
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run starts the cron loop and blocks until ctx is cancelled and running jobs finish
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	logging.Infof("Expiry scheduler started - schedule: %q, next run: %s", s.spec, s.Next().Format(time.RFC3339))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	logging.Infof("Expiry scheduler stopped")
	return nil
}

// cronLogger routes cron's logging through the service logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Errorf("cron: %s %v: %v", msg, keysAndValues, err)
}
