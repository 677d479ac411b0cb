package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type DispatcherConfig struct {
	// CompletionDelay is how long after release a job is assumed printed.
	CompletionDelay time.Duration
	WorkerCount     int
	PollInterval    time.Duration
}

// Dispatcher completes released jobs once the configured delay has passed.
// It keeps no authority of its own: on every tick it re-reads released jobs
// from the store, so a restart loses nothing.
type Dispatcher struct {
	svc    *Service
	cfg    DispatcherConfig
	logger *zap.Logger

	jobCh   chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	inflight sync.Map
}

func NewDispatcher(svc *Service, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		jobCh:  make(chan string, 1000),
	}
}

func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if d.cfg.CompletionDelay <= 0 {
		d.logger.Info("automatic completion disabled")
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})

	d.enqueueDue(context.Background())

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go d.dispatch()

	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.enqueueDue(context.Background())
		}
	}
}

func (d *Dispatcher) enqueueDue(ctx context.Context) {
	cutoff := d.svc.clock.Now().Add(-d.cfg.CompletionDelay)
	jobs, err := d.svc.store.ListReleasedBefore(ctx, cutoff, cap(d.jobCh))
	if err != nil {
		d.logger.Error("failed to query released jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		if _, busy := d.inflight.LoadOrStore(job.ID, struct{}{}); busy {
			continue
		}
		select {
		case d.jobCh <- job.ID:
		default:
			d.inflight.Delete(job.ID)
			return
		}
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case jobID := <-d.jobCh:
			d.complete(jobID)
			d.inflight.Delete(jobID)
		}
	}
}

// CompleteDue synchronously completes every released job whose delay has
// elapsed and returns how many it moved.
func (d *Dispatcher) CompleteDue(ctx context.Context) (int, error) {
	if d.cfg.CompletionDelay <= 0 {
		return 0, nil
	}
	cutoff := d.svc.clock.Now().Add(-d.cfg.CompletionDelay)
	jobs, err := d.svc.store.ListReleasedBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, job := range jobs {
		if _, err := d.svc.markCompleted(ctx, job.ID, "auto"); err != nil {
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
				continue
			}
			return completed, err
		}
		completed++
	}
	return completed, nil
}

func (d *Dispatcher) complete(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := d.svc.markCompleted(ctx, jobID, "auto")
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired):
		// Already finished elsewhere or past its deadline.
	default:
		d.logger.Error("failed to complete job", zap.String("job_id", jobID), zap.Error(err))
	}
}
