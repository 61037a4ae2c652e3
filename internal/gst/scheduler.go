package gst

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher reloads a rate catalog.
type Refresher interface {
	Refresh(ctx context.Context) RefreshResult
}

// Scheduler refreshes the rate catalog on startup and then at a fixed
// interval until stopped.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewScheduler creates a new catalog refresh scheduler.
func NewScheduler(refresher Refresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs an initial refresh with ctx, then refreshes every interval in a
// background goroutine. Start does not block after the initial refresh.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("running initial GST rate refresh")
	s.logResult(s.refresher.Refresh(ctx))

	s.wg.Add(1)
	go s.loop()
}

// Stop signals the scheduler to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.logger.Info("stopping GST rate refresh scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			s.logResult(s.refresher.Refresh(ctx))
			cancel()
		case <-s.stopCh:
			s.logger.Info("GST rate refresh scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) logResult(result RefreshResult) {
	if result.Error != nil {
		s.logger.Error("GST rate refresh failed",
			"source", result.Source,
			"error", result.Error,
		)
		return
	}
	s.logger.Debug("GST rate refresh completed",
		"source", result.Source,
		"rates_loaded", result.RatesLoaded,
		"rates_changed", result.RatesChanged,
	)
}
