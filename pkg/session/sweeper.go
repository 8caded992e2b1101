package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultMaxIdle is the idle period after which a session becomes eligible for sweeping
const DefaultMaxIdle = time.Hour

// Sweeper periodically removes idle sessions from a Store on a cron schedule
type Sweeper struct {
	store    Store
	schedule string
	sched    cron.Schedule
	maxIdle  time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewSweeper creates a sweeper. schedule accepts standard five-field cron
// expressions and descriptors such as "@every 10m".
func NewSweeper(store Store, schedule string, maxIdle time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return &Sweeper{
		store:    store,
		schedule: schedule,
		sched:    sched,
		maxIdle:  maxIdle,
		now:      time.Now,
		logger:   logger.With().Str("component", "session_sweeper").Logger(),
	}, nil
}

// Start schedules the sweep job
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New()
	id := c.Schedule(s.sched, cron.FuncJob(func() {
		if _, err := s.SweepNow(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Failed to sweep expired sessions")
		}
	}))
	c.Start()

	s.cron = c
	s.entryID = id
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("max_idle", s.maxIdle).
		Time("next_run", s.sched.Next(time.Now())).
		Msg("Session sweeper started")

	return nil
}

// Stop unschedules the job and waits for a running sweep to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is not running")
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info().Msg("Session sweeper stopped")
	return nil
}

// SweepNow runs one sweep immediately
func (s *Sweeper) SweepNow(ctx context.Context) (int, error) {
	removed, err := s.store.SweepExpired(ctx, s.now(), s.maxIdle)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	s.logger.Debug().Int("removed", removed).Msg("Sweep completed")
	return removed, nil
}

// IsRunning returns whether the sweep job is scheduled
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns when the next scheduled sweep fires, or the zero time when stopped
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
		return next
	}
	return s.sched.Next(time.Now())
}

// MaxIdle returns the idle duration after which a session is swept
func (s *Sweeper) MaxIdle() time.Duration {
	return s.maxIdle
}
