package modwire

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// RefreshScheduler periodically refreshes the modules that own removal
// pending revisions. Runs with nothing pending are skipped.
type RefreshScheduler struct {
	container *Container
	schedule  string
	cron      *cron.Cron

	mu        sync.Mutex
	isStarted bool
}

// NewRefreshScheduler creates a scheduler for c running on a standard cron
// schedule, which may also be a descriptor such as "@every 5m".
func NewRefreshScheduler(c *Container, schedule string) (*RefreshScheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w: auto refresh schedule %q: %w", ErrConfigValidationFailed, schedule, err)
	}
	s := &RefreshScheduler{
		container: c,
		schedule:  schedule,
		cron:      cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("auto refresh schedule: %w", err)
	}
	return s, nil
}

// Start starts the scheduler
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isStarted {
		return
	}
	s.container.logger.Info("Starting refresh scheduler", "schedule", s.schedule)
	s.cron.Start()
	s.isStarted = true
}

// Stop stops the scheduler and waits for a running refresh to be queued.
func (s *RefreshScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isStarted {
		return
	}
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		s.container.logger.Warn("Refresh scheduler stop timed out")
	}
	s.isStarted = false
}

// run queues a refresh when revisions are removal pending. It does not wait
// for the refresh to finish.
func (s *RefreshScheduler) run() {
	pending := s.container.RemovalPending()
	if len(pending) == 0 {
		s.container.logger.Debug("Scheduled refresh skipped, nothing is removal pending")
		return
	}
	done, err := s.container.RefreshAsync()
	if err != nil {
		s.container.logger.Warn("Scheduled refresh not queued", "error", err)
		return
	}
	s.container.logger.Info("Scheduled refresh queued", "removalPending", len(pending))
	go func() {
		if err := <-done; err != nil {
			s.container.logger.Warn("Scheduled refresh failed", "error", err)
		}
	}()
}
