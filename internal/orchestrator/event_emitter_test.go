package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func closeEmitter(t *testing.T, e *EventEmitter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestEventEmitter_DeliversInOrder(t *testing.T) {
	sink := NewChannelSink(10)
	e := NewEventEmitter(EmitterConfig{BufferSize: 10}, sink)

	for i := 1; i <= 3; i++ {
		e.Emit(Event{Type: EventStepStarted, PlanID: "p", StepNumber: i})
	}
	closeEmitter(t, e)
	close(sink.C)

	want := 1
	for ev := range sink.C {
		if ev.StepNumber != want {
			t.Errorf("got step %d, want %d", ev.StepNumber, want)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
		want++
	}
	if e.DeliveredCount() != 3 {
		t.Errorf("DeliveredCount() = %d, want 3", e.DeliveredCount())
	}
}

func TestEventEmitter_Retries(t *testing.T) {
	tests := []struct {
		name          string
		failures      int32
		retries       int
		wantDelivered uint64
		wantFailed    uint64
		wantAttempts  int32
	}{
		{"succeeds after retries", 2, 3, 1, 0, 3},
		{"exhausts retries", 100, 1, 0, 1, 2},
		{"no retries", 1, 0, 0, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			sink := SinkFunc(func(context.Context, Event) error {
				if attempts.Add(1) <= tt.failures {
					return errors.New("unavailable")
				}
				return nil
			})
			e := NewEventEmitter(EmitterConfig{BufferSize: 4, Retries: tt.retries, RetryBackoff: time.Millisecond}, sink)
			e.Emit(Event{Type: EventPlanCompleted, PlanID: "p"})
			closeEmitter(t, e)

			if e.DeliveredCount() != tt.wantDelivered || e.FailedCount() != tt.wantFailed {
				t.Errorf("delivered/failed = %d/%d, want %d/%d", e.DeliveredCount(), e.FailedCount(), tt.wantDelivered, tt.wantFailed)
			}
			if attempts.Load() != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts.Load(), tt.wantAttempts)
			}
		})
	}
}

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	sink := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	e := NewEventEmitter(EmitterConfig{BufferSize: 1}, sink)

	start := time.Now()
	for i := 0; i < 5; i++ {
		e.Emit(Event{Type: EventLayerProgress, PlanID: "p"})
	}
	if time.Since(start) > time.Second {
		t.Error("Emit blocked on a full channel")
	}
	// One event may be held by the blocked sink and one buffered.
	if e.DroppedCount() < 3 {
		t.Errorf("DroppedCount() = %d, want at least 3", e.DroppedCount())
	}

	close(release)
	closeEmitter(t, e)

	before := e.DroppedCount()
	e.Emit(Event{Type: EventLayerProgress, PlanID: "p"})
	if e.DroppedCount() != before+1 {
		t.Error("Emit after Close should count a drop")
	}

	var nilEmitter *EventEmitter
	nilEmitter.Emit(Event{Type: EventPlanFailed})
}

func TestPauseController(t *testing.T) {
	pc := NewPauseController("run-1")
	if err := pc.WaitIfPaused(context.Background()); err != nil {
		t.Fatalf("WaitIfPaused() unpaused error = %v", err)
	}

	pc.Pause()
	done := make(chan error, 1)
	go func() { done <- pc.WaitIfPaused(context.Background()) }()
	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(50 * time.Millisecond):
	}
	pc.Resume()
	if err := <-done; err != nil {
		t.Errorf("WaitIfPaused() after Resume error = %v", err)
	}

	pc.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- pc.WaitIfPaused(ctx) }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("WaitIfPaused() after cancel error = %v, want context.Canceled", err)
	}

	go func() { done <- pc.WaitIfPaused(context.Background()) }()
	pc.Stop()
	if err := <-done; !errors.Is(err, ErrRunStopped) {
		t.Errorf("WaitIfPaused() after Stop error = %v, want ErrRunStopped", err)
	}
	if !pc.IsStopped() || !pc.IsPaused() {
		t.Errorf("IsStopped = %v, IsPaused = %v", pc.IsStopped(), pc.IsPaused())
	}

	var nilPC *PauseController
	if err := nilPC.WaitIfPaused(context.Background()); err != nil {
		t.Errorf("nil WaitIfPaused() error = %v", err)
	}
}

func TestDebugLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", DebugLogFile)
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger() error = %v", err)
	}
	l.Log("plan %s analyzed", "p1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Log("after close")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "plan p1 analyzed") || strings.Contains(string(data), "after close") {
		t.Errorf("log content = %q", data)
	}

	var nilLogger *DebugLogger
	nilLogger.Log("ignored")
	NopLogger().Log("ignored")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
