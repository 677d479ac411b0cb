package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/metrics"
)

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper moves in-flight jobs past their deadline into deleted. It races
// freely with views and releases; the store's CAS decides every race.
type Sweeper struct {
	store    JobStore
	clock    clock.Clock
	notifier Notifier
	logger   *zap.Logger
	cfg      SweeperConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewSweeper(store JobStore, clk clock.Clock, notifier Notifier, logger *zap.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// RunOnce sweeps every job that is expired at the current instant and
// returns how many it deleted. Jobs that leave the sweepable states between
// the scan and the CAS are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	swept := 0

	for {
		jobs, err := s.store.ListExpired(ctx, SweepableStatuses, now, s.cfg.BatchSize)
		if err != nil {
			return swept, err
		}

		progressed := 0
		for _, job := range jobs {
			deleted, err := s.store.UpdateStatus(ctx, job.ID, job.Status, JobStatusDeleted, StatusUpdate{At: now})
			if err != nil {
				if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
					s.logger.Debug("job moved before sweep", zap.String("job_id", job.ID))
					continue
				}
				return swept, err
			}

			progressed++
			metrics.JobsSwept.Inc()
			s.notifier.JobEvent(EventJobDeleted, deleted, "expired")
			s.logger.Info("expired job deleted",
				zap.String("job_id", job.ID),
				zap.String("from", string(job.Status)),
				zap.Time("expires_at", job.ExpiresAt))
		}
		swept += progressed

		// A short page means the backlog is drained. A page with no
		// progress would repeat forever, so stop and leave it to the next tick.
		if len(jobs) < s.cfg.BatchSize || progressed == 0 {
			break
		}
	}

	if swept > 0 {
		s.logger.Info("sweep complete", zap.Int("deleted", swept))
	}
	return swept, nil
}
