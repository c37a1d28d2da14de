package orchestrator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// EventEmitter delivers events to sinks without blocking the caller.
// Events go into a buffered channel drained by one background goroutine,
// which delivers to each sink with bounded retries. A full channel drops
// the event after a short wait.
type EventEmitter struct {
	events      chan Event
	sinks       []EventSink
	retries     int
	backoff     time.Duration
	emitTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	droppedCount   atomic.Uint64
	deliveredCount atomic.Uint64
	failedCount    atomic.Uint64
}

// EmitterConfig configures an EventEmitter.
type EmitterConfig struct {
	BufferSize   int
	Retries      int
	RetryBackoff time.Duration
	EmitTimeout  time.Duration
}

// NewEventEmitter creates an emitter and starts its drain goroutine.
func NewEventEmitter(cfg EmitterConfig, sinks ...EventSink) *EventEmitter {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 100
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	e := &EventEmitter{
		events:      make(chan Event, cfg.BufferSize),
		sinks:       sinks,
		retries:     cfg.Retries,
		backoff:     cfg.RetryBackoff,
		emitTimeout: cfg.EmitTimeout,
		done:        make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit queues an event for delivery. It never fails; the event is dropped
// if the emitter is closed or the channel stays full past the emit timeout.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(event)
		return
	}

	// Try immediate send first
	select {
	case e.events <- event:
		return
	default:
	}

	if e.emitTimeout > 0 {
		timer := time.NewTimer(e.emitTimeout)
		defer timer.Stop()
		select {
		case e.events <- event:
			return
		case <-timer.C:
		}
	}
	e.drop(event)
}

func (e *EventEmitter) drop(event Event) {
	count := e.droppedCount.Add(1)
	if count%10 == 1 { // Log every 10th drop to avoid spam
		log.Printf("[orchestrator] WARNING: event channel full, dropped event (total dropped: %d): type=%s plan=%s", count, event.Type, event.PlanID)
	}
}

func (e *EventEmitter) drain() {
	defer close(e.done)
	for event := range e.events {
		for _, sink := range e.sinks {
			e.deliver(sink, event)
		}
	}
}

func (e *EventEmitter) deliver(sink EventSink, event Event) {
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 && e.backoff > 0 {
			time.Sleep(time.Duration(attempt) * e.backoff)
		}
		if err = sink.Deliver(context.Background(), event); err == nil {
			e.deliveredCount.Add(1)
			return
		}
	}
	count := e.failedCount.Add(1)
	if count%10 == 1 {
		log.Printf("[orchestrator] WARNING: sink %s failed after %d attempts (total failed: %d): %v", sink.Name(), e.retries+1, count, err)
	}
}

// StepStarted emits a step.started event.
func (e *EventEmitter) StepStarted(planID string, step *models.Step) {
	e.Emit(Event{
		Type:         EventStepStarted,
		PlanID:       planID,
		StepNumber:   step.StepNumber,
		CapabilityID: step.CapabilityID,
		Status:       string(step.Status),
	})
}

// StepCompleted emits a step.completed event.
func (e *EventEmitter) StepCompleted(planID string, entry models.WorkingMemoryEntry) {
	e.Emit(Event{
		Type:         EventStepCompleted,
		PlanID:       planID,
		StepNumber:   entry.StepNumber,
		CapabilityID: entry.CapabilityID,
		Status:       string(entry.Status),
		Message:      entry.Summary,
	})
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// DeliveredCount returns the number of successful sink deliveries.
func (e *EventEmitter) DeliveredCount() uint64 {
	return e.deliveredCount.Load()
}

// FailedCount returns the number of deliveries that exhausted their retries.
func (e *EventEmitter) FailedCount() uint64 {
	return e.failedCount.Load()
}

// Close stops accepting events and waits until queued events are delivered
// or ctx is done. Safe to call more than once.
func (e *EventEmitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
