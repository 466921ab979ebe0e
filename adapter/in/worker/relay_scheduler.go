package worker

import (
	"context"
	"time"

	"relay_server/core/domain"
	"relay_server/pkg/logger"
)

const (
	// cleanupInterval is how often the retention purge runs.
	cleanupInterval = 1 * time.Hour
	// startupDelay lets the server settle before the first run.
	startupDelay = 10 * time.Second
)

// Scheduler drives the processor on a fixed interval and runs the
// hourly retention cleanup.
type Scheduler struct {
	processor    *Processor
	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	log          *logger.Logger
}

// NewScheduler creates a scheduler around an existing processor.
func NewScheduler(processor *Processor, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		processor:    processor,
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
		log:          logger.WithField("component", "scheduler"),
	}
}

// Start starts the processing and cleanup loops.
func (s *Scheduler) Start() {
	s.log.WithField("interval", s.pollInterval.String()).Info("Scheduler starting")
	go s.runProcessing()
	go s.runCleanup()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.log.Info("Scheduler stopping")
	s.cancel()
}

// TriggerRun runs one processing pass immediately. Used by the manual
// trigger endpoint; the run row's overlap guard still applies.
func (s *Scheduler) TriggerRun(ctx context.Context) (*domain.ProcessingRun, error) {
	return s.processor.ProcessRun(ctx)
}

func (s *Scheduler) runProcessing() {
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(startupDelay):
	}

	s.tickProcessing()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Processing loop stopped")
			return
		case <-ticker.C:
			s.tickProcessing()
		}
	}
}

func (s *Scheduler) tickProcessing() {
	ctx, cancel := context.WithTimeout(s.ctx, s.pollInterval)
	defer cancel()

	if _, err := s.processor.ProcessRun(ctx); err != nil {
		s.log.WithError(err).Error("Processing run failed")
	}
}

func (s *Scheduler) runCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Cleanup loop stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
			if err := s.processor.CleanupRetention(ctx); err != nil {
				s.log.WithError(err).Error("Retention cleanup failed")
			}
			cancel()
		}
	}
}
