package bench

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// scheduleParser accepts standard five-field specs and descriptors such as @every 30m
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler triggers benchmark runs on a cron schedule. A run that is still
// going when the next trigger fires causes that trigger to be skipped.
type Scheduler struct {
	runner   *Runner
	opts     RunOptions
	schedule string
	maxRuns  int // 0 runs until stopped
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger

	completed int
	done      chan struct{}
	doneOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	lastErr   error
}

// SchedulerConfig holds configuration for the run scheduler
type SchedulerConfig struct {
	Runner   *Runner
	Options  RunOptions
	Schedule string // Cron schedule string (e.g., "@every 30m", "0 * * * *")
	MaxRuns  int
	Logger   zerolog.Logger
}

// NewScheduler creates a new run scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if _, err := scheduleParser.Parse(cfg.Schedule); err != nil {
		return nil, err
	}

	s := &Scheduler{
		runner:   cfg.Runner,
		opts:     cfg.Options,
		schedule: cfg.Schedule,
		maxRuns:  cfg.MaxRuns,
		done:     make(chan struct{}),
		logger:   cfg.Logger.With().Str("component", "bench-scheduler").Logger(),
	}

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("max_runs", s.maxRuns).
		Msg("Run scheduler initialized")

	return s, nil
}

// Start starts the scheduler. Runs use a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Run scheduler already running")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := s.cron.AddFunc(s.schedule, s.trigger); err != nil {
		s.cancel()
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.getNextRun()).
		Msg("Run scheduler started")

	return nil
}

// Stop stops the scheduler and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	stopped := c.Stop()
	<-stopped.Done()
	s.cancel()
	s.finish()

	s.logger.Info().Msg("Run scheduler stopped")
}

// Wait blocks until MaxRuns runs completed, a run failed fatally, or ctx is
// done, then stops the scheduler.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	return ctx.Err()
}

// Completed returns the number of finished runs.
func (s *Scheduler) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// trigger runs one benchmark pass
func (s *Scheduler) trigger() {
	s.logger.Info().Msg("Triggering scheduled run")

	run, err := s.runner.Run(s.ctx, s.opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if run != nil {
		s.completed++
	}
	if err != nil {
		if errors.Is(err, ErrNoQueries) || errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("Scheduled run did not execute")
		} else {
			s.logger.Error().Err(err).Msg("Scheduled run failed")
		}
		s.lastErr = err
		s.finish()
		return
	}

	if s.maxRuns > 0 && s.completed >= s.maxRuns {
		s.logger.Info().Int("runs", s.completed).Msg("Scheduled runs completed")
		s.finish()
		return
	}

	s.logger.Info().
		Int("runs", s.completed).
		Time("next_run", s.getNextRun()).
		Msg("Scheduled run finished")
}

func (s *Scheduler) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// getNextRun returns the next scheduled run time
func (s *Scheduler) getNextRun() time.Time {
	schedule, err := scheduleParser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetSchedule returns the cron schedule string
func (s *Scheduler) GetSchedule() string {
	return s.schedule
}
