package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/stepwise/internal/state"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// RunHandle tracks one background execution.
type RunHandle struct {
	RunID  string
	PlanID string

	done   chan struct{}
	result *models.PlanResult
	err    error
}

// Done is closed when the run finishes.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (*models.PlanResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a finished run, or nil while it is running.
func (h *RunHandle) Result() (*models.PlanResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
		return nil, nil
	}
}

type activeRun struct {
	handle *RunHandle
	pause  *PauseController
	cancel context.CancelFunc
}

// Supervisor runs plans in the background and controls them by run id.
type Supervisor struct {
	orch *Orchestrator
	runs state.RunStore

	// active tracks running plans by run id
	active map[string]*activeRun
	mu     sync.RWMutex
	closed bool

	// ctx and cancel for supervisor lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks running plans
	wg sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Runs are recorded in runs.
func NewSupervisor(orch *Orchestrator, runs state.RunStore) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		orch:   orch,
		runs:   runs,
		active: make(map[string]*activeRun),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ExecutePlanAsync starts executing an approved plan and returns immediately.
// The run outlives ctx; stop it with Cancel or Shutdown.
func (s *Supervisor) ExecutePlanAsync(ctx context.Context, subjectID string, plan *models.ExecutionPlan) (*RunHandle, error) {
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if plan.Status != models.PlanApproved {
		return nil, fmt.Errorf("plan %s is %s: %w", plan.PlanID, plan.Status, ErrPlanNotApproved)
	}
	return s.start(ctx, uuid.New().String()[:8], subjectID, plan, false)
}

// ResumeRun restarts a paused run whose plan is still executing. Steps that
// already finished are not invoked again.
func (s *Supervisor) ResumeRun(ctx context.Context, runID string) (*RunHandle, error) {
	s.mu.RLock()
	_, running := s.active[runID]
	s.mu.RUnlock()
	if running {
		return nil, fmt.Errorf("run %s is already running", runID)
	}

	r, err := s.runs.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if r == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if r.Status != models.RunPaused {
		return nil, fmt.Errorf("resume run %s: status is %s", runID, r.Status)
	}
	plan, err := s.orch.loadPlan(r.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanExecuting {
		return nil, fmt.Errorf("resume run %s: plan %s is %s", runID, plan.PlanID, plan.Status)
	}
	return s.start(ctx, runID, r.SubjectID, plan, true)
}

func (s *Supervisor) start(_ context.Context, runID, subjectID string, plan *models.ExecutionPlan, resume bool) (*RunHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSupervisorClosed
	}

	record := &models.GoalRun{
		RunID:     runID,
		PlanID:    plan.PlanID,
		SubjectID: subjectID,
		Status:    models.RunRunning,
		StartedAt: time.Now(),
	}
	if resume {
		if err := s.runs.UpdateRun(record); err != nil {
			return nil, fmt.Errorf("update run %s: %w", runID, err)
		}
	} else if err := s.runs.CreateRun(record); err != nil {
		return nil, fmt.Errorf("create run %s: %w", runID, err)
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	ar := &activeRun{
		handle: &RunHandle{RunID: runID, PlanID: plan.PlanID, done: make(chan struct{})},
		pause:  NewPauseController(runID),
		cancel: cancel,
	}
	s.active[runID] = ar

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		r := &run{runID: runID, subject: subjectID, pause: ar.pause}
		var result *models.PlanResult
		var err error
		if resume {
			result, err = s.orch.resume(runCtx, plan, r)
		} else {
			result, err = s.orch.execute(runCtx, plan, r)
		}
		if err != nil {
			log.Printf("[supervisor] run %s of plan %s failed: %v", runID, plan.PlanID, err)
		}

		s.finish(record, result, err)

		s.mu.Lock()
		delete(s.active, runID)
		s.mu.Unlock()

		ar.handle.result, ar.handle.err = result, err
		close(ar.handle.done)
	}()

	s.orch.logger.Log("run %s started for plan %s", runID, plan.PlanID)
	return ar.handle, nil
}

// finish records the terminal state of a run. A cancelled run is left
// paused so it can be resumed.
func (s *Supervisor) finish(record *models.GoalRun, result *models.PlanResult, err error) {
	now := time.Now()
	switch {
	case err != nil:
		record.Status = models.RunFailed
		record.Error = err.Error()
		record.FinishedAt = &now
	case result.Cancelled:
		record.Status = models.RunPaused
		record.Error = "cancelled"
	case result.Status == models.ResultFailed:
		record.Status = models.RunFailed
		if first := result.FirstFailure(); first != nil {
			record.Error = first.Summary
		}
		record.FinishedAt = &now
	default:
		record.Status = models.RunCompleted
		record.Error = ""
		record.FinishedAt = &now
	}
	if uerr := s.runs.UpdateRun(record); uerr != nil {
		log.Printf("[supervisor] WARNING: update run %s: %v", record.RunID, uerr)
	}
}

// Cancel stops a run cooperatively: no new layer starts, running steps
// finish, and the run is marked paused.
func (s *Supervisor) Cancel(runID string) error {
	ar, err := s.lookup(runID)
	if err != nil {
		return err
	}
	ar.pause.Stop()
	ar.cancel()
	log.Printf("[supervisor] run %s cancel requested", runID)
	return nil
}

// Pause holds a run before its next layer.
func (s *Supervisor) Pause(runID string) error {
	ar, err := s.lookup(runID)
	if err != nil {
		return err
	}
	ar.pause.Pause()
	s.setStatus(runID, models.RunPaused)
	return nil
}

// Resume releases a paused run.
func (s *Supervisor) Resume(runID string) error {
	ar, err := s.lookup(runID)
	if err != nil {
		return err
	}
	ar.pause.Resume()
	s.setStatus(runID, models.RunRunning)
	return nil
}

func (s *Supervisor) setStatus(runID string, status models.RunStatus) {
	r, err := s.runs.GetRun(runID)
	if err != nil || r == nil {
		log.Printf("[supervisor] WARNING: load run %s: %v", runID, err)
		return
	}
	r.Status = status
	if err := s.runs.UpdateRun(r); err != nil {
		log.Printf("[supervisor] WARNING: update run %s: %v", runID, err)
	}
}

func (s *Supervisor) lookup(runID string) (*activeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ar, ok := s.active[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return ar, nil
}

// Get returns the handle of an active run.
func (s *Supervisor) Get(runID string) (*RunHandle, bool) {
	ar, err := s.lookup(runID)
	if err != nil {
		return nil, false
	}
	return ar.handle, true
}

// IsPaused reports whether an active run is paused.
func (s *Supervisor) IsPaused(runID string) bool {
	ar, err := s.lookup(runID)
	return err == nil && ar.pause.IsPaused()
}

// List returns the handles of all active runs ordered by run id.
func (s *Supervisor) List() []*RunHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunHandle, 0, len(s.active))
	for _, ar := range s.active {
		out = append(out, ar.handle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

// Count returns the number of active runs.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Shutdown cancels every active run and waits for them to stop or ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, ar := range s.active {
		ar.pause.Stop()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
