package policy

import (
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	before := *c
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if *c != before {
		t.Errorf("Validate() changed defaults: %+v", c)
	}
}

func TestValidate_ClampsOutOfRange(t *testing.T) {
	c := &Config{
		Execution:    ExecutionPolicy{MaxConcurrency: 0, WorkingMemoryBytes: 10},
		Events:       EventPolicy{BufferSize: -1, SinkRetries: -2, RetryBackoff: 0, EmitTimeout: -time.Second},
		Delegation:   DelegationPolicy{WorkloadPenalty: -5},
		Approval:     ApprovalPolicy{MinTrustSuccesses: 0, MinTrustRate: 1.5},
		Verification: VerificationPolicy{ConfidenceFloor: 0},
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if *c != *Default() {
		t.Errorf("Validate() = %+v, want defaults %+v", c, Default())
	}
}

func TestValidate_KeepsInRange(t *testing.T) {
	c := Default()
	c.Execution.MaxConcurrency = 16
	c.Events.SinkRetries = 0
	c.Delegation.WorkloadPenalty = 0
	c.Validate()
	if c.Execution.MaxConcurrency != 16 || c.Events.SinkRetries != 0 || c.Delegation.WorkloadPenalty != 0 {
		t.Errorf("in-range values changed: %+v", c)
	}
}
