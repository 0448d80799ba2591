package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Start launches the overdue-confirmation worker. Requests whose deadline
// elapsed without a reply are declined with the system-timeout actor.
func (r *Requests) Start(ctx context.Context) error {
	r.startStopMutex.Lock()
	defer r.startStopMutex.Unlock()
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.workerCancel = cancel

	r.workerWG.Add(1)
	go func() {
		defer r.workerWG.Done()
		ticker := time.NewTicker(expireOverdueInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.machine.ExpireOverdue(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					r.getLogEntry().WithField("error", err.Error()).Error("failed to expire overdue requests")
				}
			}
		}
	}()

	r.started = true
	return nil
}

func (r *Requests) Stop(ctx context.Context) error {
	r.startStopMutex.Lock()
	if !r.started {
		r.startStopMutex.Unlock()
		return nil
	}
	r.started = false
	cancel := r.workerCancel
	r.startStopMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
