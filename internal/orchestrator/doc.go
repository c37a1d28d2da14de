// Package orchestrator builds execution plans from task descriptions and
// executes them layer by layer.
//
// Steps of one layer run concurrently; layers run strictly in order. Each
// step's working-memory entry is persisted as it completes, and lifecycle
// events are delivered to sinks in the background. Domain failures
// (capability errors, verification escalations, approval skips) are data on
// the PlanResult, never errors.
//
// Example usage:
//
//	orch := orchestrator.New(orchestrator.RequiredConfig{
//		Store:    db,
//		Registry: registry,
//		Oracle:   oracle,
//	}, orchestrator.WithTrustStore(db))
//	plan, err := orch.AnalyzeTask(ctx, "Research competitors and draft an intro", "alice")
//	result, err := orch.ExecutePlan(ctx, "alice", plan, nil)
package orchestrator
