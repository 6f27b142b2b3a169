package authcheck

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/authcheck/pkg/observability"
)

// Scheduler runs the sweep every interval. A tick that fires while the
// previous sweep is still running is skipped.
type Scheduler struct {
	sweeper *Sweeper
	logger  *observability.Logger
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler registers the sweep on an "@every <interval>" schedule
func NewScheduler(sweeper *Sweeper, logger *observability.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("component", "scheduler")

	cronLog := cronLogger{logger: logger}
	s := &Scheduler{
		sweeper: sweeper,
		logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		), cron.WithLogger(cronLog)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	spec := fmt.Sprintf("@every %s", sweeper.Interval())
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("failed to schedule verification sweep: %w", err)
	}

	return s, nil
}

func (s *Scheduler) tick() {
	defer observability.RecoverPanic(s.logger, "verification sweep")

	if _, err := s.sweeper.Sweep(s.ctx); err != nil {
		s.logger.WithError(err).Error("Verification sweep failed")
	}
}

// Start begins running sweeps in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("interval", s.sweeper.Interval().String()).Info("Verification scheduler started")
}

// RunOnce runs a single sweep synchronously
func (s *Scheduler) RunOnce(ctx context.Context) (*SweepResult, error) {
	return s.sweeper.Sweep(ctx)
}

// Stop stops scheduling new sweeps and waits for a running sweep to finish
// or for ctx to be done, whichever comes first. A running sweep is
// cancelled when ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("Verification scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
