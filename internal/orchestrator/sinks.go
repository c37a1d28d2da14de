package orchestrator

import (
	"context"
	"errors"
	"log"
)

// ErrSinkFull is returned by a ChannelSink whose channel has no room.
var ErrSinkFull = errors.New("sink channel full")

// LogSink writes every event to the standard logger.
type LogSink struct{}

// Name implements EventSink.
func (LogSink) Name() string { return "log" }

// Deliver implements EventSink.
func (LogSink) Deliver(_ context.Context, ev Event) error {
	switch ev.Type {
	case EventLayerProgress:
		log.Printf("[events] %s plan=%s %d/%d", ev.Type, ev.PlanID, ev.Completed, ev.Total)
	case EventStepStarted, EventStepCompleted:
		log.Printf("[events] %s plan=%s step=%d capability=%s status=%s", ev.Type, ev.PlanID, ev.StepNumber, ev.CapabilityID, ev.Status)
	default:
		log.Printf("[events] %s plan=%s status=%s %s", ev.Type, ev.PlanID, ev.Status, ev.Message)
	}
	return nil
}

// ChannelSink forwards events to a channel without blocking.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a sink with a buffered channel.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, size)}
}

// Name implements EventSink.
func (s *ChannelSink) Name() string { return "channel" }

// Deliver implements EventSink.
func (s *ChannelSink) Deliver(_ context.Context, ev Event) error {
	select {
	case s.C <- ev:
		return nil
	default:
		return ErrSinkFull
	}
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Name implements EventSink.
func (SinkFunc) Name() string { return "func" }

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }
