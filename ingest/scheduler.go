package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

// Runner runs one full ingestion cycle.
type Runner interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler fires a cycle once a day at a fixed wall-clock time.
type Scheduler struct {
	runner  Runner
	hour    int
	minute  int
	loc     *time.Location
	enabled bool
	logger  *common.Logger
	now     func() time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewScheduler builds a scheduler from the schedule section of the config.
func NewScheduler(runner Runner, cfg common.ScheduleConfig, logger *common.Logger) (*Scheduler, error) {
	hour, minute, err := common.ParseClock(cfg.At)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Scheduler{
		runner:  runner,
		hour:    hour,
		minute:  minute,
		loc:     loc,
		enabled: cfg.Enabled,
		logger:  logger.Component("scheduler"),
		now:     time.Now,
	}, nil
}

// NextRun returns the first trigger time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// nextTrigger is NextRun measured from no earlier than one minute past the
// previous trigger.
func (s *Scheduler) nextTrigger(now, last time.Time) time.Time {
	from := now
	if !last.IsZero() {
		if floor := last.Add(time.Minute); from.Before(floor) {
			from = floor
		}
	}
	return s.NextRun(from)
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		s.logger.Info().Msg("scheduler disabled, not starting")
		return
	}
	if s.started {
		return
	}

	s.stop = make(chan struct{})
	s.started = true
	s.wg.Add(1)
	go s.run()

	s.logger.Info().Time("next_run", s.NextRun(s.now())).Str("zone", s.loc.String()).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.started = false
	s.logger.Info().Msg("scheduler stopped")
}

// RunNow triggers an immediate cycle.
func (s *Scheduler) RunNow(ctx context.Context) (*CycleResult, error) {
	return s.runner.RunCycle(ctx)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	var last time.Time
	for {
		now := s.now()
		next := s.nextTrigger(now, last)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-timer.C:
			last = next
			s.fire()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire() {
	_, err := s.runner.RunCycle(context.Background())
	switch {
	case errors.Is(err, nav.ErrCycleInProgress):
		s.logger.Warn().Msg("previous cycle still running, skipping tick")
	case err != nil:
		s.logger.Error().Err(err).Msg("scheduled cycle failed")
	}
}
