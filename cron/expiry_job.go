package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/governance"
)

// ExpiryJob periodically marks pending settings changes past their TTL as
// expired.
type ExpiryJob struct {
	service  *governance.Service
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewExpiryJob(service *governance.Service, interval time.Duration, logger zerolog.Logger) *ExpiryJob {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ExpiryJob{
		service:  service,
		interval: interval,
		logger:   logger.With().Str("component", "expiry_cron").Logger(),
	}
}

// Start launches the background loop and returns immediately (non-blocking).
// Safe to call multiple times; subsequent calls are no-ops.
func (j *ExpiryJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	if j.service == nil {
		return errors.New("cron: governance service must be non-nil")
	}

	j.stopCh = make(chan struct{})
	j.running = true
	j.wg.Add(1)

	go j.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
// Safe to call multiple times.
func (j *ExpiryJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	j.running = false
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *ExpiryJob) run(parent context.Context) {
	defer j.wg.Done()

	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-parent.Done():
			j.logger.Info().Msg("expiry cron: context canceled; stopping")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("expiry cron: stop requested; stopping")
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(parent, time.Minute)
			if _, err := j.service.ExpireSweep(ctx); err != nil {
				j.logger.Warn().Err(err).Msg("expiry sweep failed; retried next tick")
			}
			cancel()
		}
	}
}
