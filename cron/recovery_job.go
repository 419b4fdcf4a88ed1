// Package cron holds the engine's background loops: pending-distribution
// recovery and settings-change expiry.
package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/distribution"
)

// RecoveryJob periodically settles pending distributions whose confirmation
// wait was interrupted, by re-querying their transaction hashes. It never
// resubmits a transfer.
type RecoveryJob struct {
	engine   *distribution.Engine
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	forceCh chan struct{}
	wg      sync.WaitGroup
}

func NewRecoveryJob(engine *distribution.Engine, interval time.Duration, logger zerolog.Logger) *RecoveryJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RecoveryJob{
		engine:   engine,
		interval: interval,
		logger:   logger.With().Str("component", "recovery_cron").Logger(),
	}
}

// Start launches the background loop and returns immediately (non-blocking).
// Safe to call multiple times; subsequent calls are no-ops.
func (j *RecoveryJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	if j.engine == nil {
		return errors.New("cron: distribution engine must be non-nil")
	}

	j.stopCh = make(chan struct{})
	j.forceCh = make(chan struct{}, 1) // buffered so ForceRun won't block
	j.running = true
	j.wg.Add(1)

	go j.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
// Safe to call multiple times.
func (j *RecoveryJob) Stop() {
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

// ForceRun triggers an immediate recovery pass without waiting for the next
// tick. Non-blocking; a pass already queued absorbs the request.
func (j *RecoveryJob) ForceRun() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	select {
	case j.forceCh <- struct{}{}:
	default:
	}
}

func (j *RecoveryJob) run(parent context.Context) {
	defer j.wg.Done()

	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-parent.Done():
			j.logger.Info().Msg("recovery cron: context canceled; stopping")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("recovery cron: stop requested; stopping")
			return
		case <-t.C:
			j.runOnce(parent)
		case <-j.forceCh:
			j.runOnce(parent)
		}
	}
}

func (j *RecoveryJob) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, j.interval)
	defer cancel()
	if err := j.engine.RecoverPending(ctx); err != nil {
		j.logger.Warn().Err(err).Msg("recovery pass failed; pending rows retried next tick")
	}
}
