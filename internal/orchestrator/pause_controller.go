package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrRunStopped is returned by WaitIfPaused once the run has been stopped.
var ErrRunStopped = errors.New("run stopped")

// PauseController holds a run between layers. A paused run finishes its
// current layer and starts no new one until resumed or stopped.
type PauseController struct {
	runID string

	mu sync.Mutex
	// resumed is open while paused and closed on Resume.
	resumed chan struct{}
	stop    chan struct{}
	stopped bool
}

// NewPauseController creates an unpaused controller for one run.
func NewPauseController(runID string) *PauseController {
	return &PauseController{runID: runID, stop: make(chan struct{})}
}

// Pause holds the run before its next layer.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed == nil {
		p.resumed = make(chan struct{})
		log.Printf("[orchestrator] run %s paused, no new layers will start", p.runID)
	}
}

// Resume releases a paused run.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed != nil {
		close(p.resumed)
		p.resumed = nil
		log.Printf("[orchestrator] run %s resumed", p.runID)
	}
}

// Stop releases every waiter with ErrRunStopped.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
}

// IsPaused reports whether the run is held.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumed != nil
}

// IsStopped reports whether Stop was called.
func (p *PauseController) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// WaitIfPaused blocks while the run is paused. It returns ctx.Err() when
// ctx ends first and ErrRunStopped once the controller is stopped.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	resumed, stopped := p.resumed, p.stopped
	p.mu.Unlock()

	if stopped {
		return ErrRunStopped
	}
	if resumed == nil {
		return nil
	}
	select {
	case <-resumed:
		return nil
	case <-p.stop:
		return ErrRunStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
