// Package policy defines configurable policy parameters for orchestrator behavior.
// This centralizes thresholds and sizes used by execution, event delivery,
// delegation, approval and verification, enabling configuration and testing.
package policy

import "time"

// Config contains all configurable policy parameters for the orchestrator.
type Config struct {
	// Execution policies
	Execution ExecutionPolicy

	// Event delivery policies
	Events EventPolicy

	// Delegation scoring policies
	Delegation DelegationPolicy

	// Approval gate policies
	Approval ApprovalPolicy

	// Verification coordinator policies
	Verification VerificationPolicy
}

// ExecutionPolicy controls layer execution.
type ExecutionPolicy struct {
	// MaxConcurrency is the maximum number of steps of one layer running at once.
	MaxConcurrency int

	// WorkingMemoryBytes is the byte budget of each working-memory entry.
	WorkingMemoryBytes int
}

// EventPolicy controls lifecycle event delivery.
type EventPolicy struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int

	// SinkRetries is how many times delivery to one sink is retried.
	SinkRetries int

	// RetryBackoff is the delay before the first retry; it grows linearly.
	RetryBackoff time.Duration

	// EmitTimeout is how long Emit waits on a full channel before dropping.
	EmitTimeout time.Duration
}

// DelegationPolicy controls executor selection.
type DelegationPolicy struct {
	// WorkloadPenalty is subtracted per step already assigned to a candidate.
	WorkloadPenalty float64

	// DefaultExecutor is used when no candidate is registered.
	DefaultExecutor string
}

// ApprovalPolicy controls when trust history waives approval.
type ApprovalPolicy struct {
	// MinTrustSuccesses is the number of recorded successes required.
	MinTrustSuccesses int64

	// MinTrustRate is the success rate required.
	MinTrustRate float64
}

// VerificationPolicy controls the adaptive coordinator.
type VerificationPolicy struct {
	// ConfidenceFloor is the confidence below which a failing output is
	// re-delegated instead of retried, when an alternate executor exists.
	ConfidenceFloor float64
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Execution: ExecutionPolicy{
			MaxConcurrency:     4,
			WorkingMemoryBytes: 800,
		},
		Events: EventPolicy{
			BufferSize:   100,
			SinkRetries:  3,
			RetryBackoff: 50 * time.Millisecond,
			EmitTimeout:  100 * time.Millisecond,
		},
		Delegation: DelegationPolicy{
			WorkloadPenalty: 10,
			DefaultExecutor: "default",
		},
		Approval: ApprovalPolicy{
			MinTrustSuccesses: 5,
			MinTrustRate:      0.9,
		},
		Verification: VerificationPolicy{
			ConfidenceFloor: 0.3,
		},
	}
}

// Validate checks that policy values are within acceptable ranges.
// Out-of-range values are reset to their defaults.
func (c *Config) Validate() error {
	if c.Execution.MaxConcurrency < 1 {
		c.Execution.MaxConcurrency = 4
	}
	if c.Execution.WorkingMemoryBytes < 200 {
		c.Execution.WorkingMemoryBytes = 800
	}
	if c.Events.BufferSize < 1 {
		c.Events.BufferSize = 100
	}
	if c.Events.SinkRetries < 0 {
		c.Events.SinkRetries = 3
	}
	if c.Events.RetryBackoff < time.Millisecond {
		c.Events.RetryBackoff = 50 * time.Millisecond
	}
	if c.Events.EmitTimeout < 0 {
		c.Events.EmitTimeout = 100 * time.Millisecond
	}
	if c.Delegation.WorkloadPenalty < 0 {
		c.Delegation.WorkloadPenalty = 10
	}
	if c.Delegation.DefaultExecutor == "" {
		c.Delegation.DefaultExecutor = "default"
	}
	if c.Approval.MinTrustSuccesses < 1 {
		c.Approval.MinTrustSuccesses = 5
	}
	if c.Approval.MinTrustRate <= 0 || c.Approval.MinTrustRate > 1 {
		c.Approval.MinTrustRate = 0.9
	}
	if c.Verification.ConfidenceFloor <= 0 || c.Verification.ConfidenceFloor > 1 {
		c.Verification.ConfidenceFloor = 0.3
	}
	return nil
}
