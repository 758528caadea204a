// Package orchestrator drives a generation run phase by phase: it
// validates the phase graph, executes independent phases in parallel,
// fans sub-generations out under a shared concurrency limit, and
// checkpoints progress so an interrupted run can resume.
package orchestrator

import (
	"time"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/cache"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// RunState is the coarse lifecycle of one run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateComplete  RunState = "complete"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// PhaseStatus is the lifecycle of one phase within a run.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseRunning  PhaseStatus = "running"
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"

	// PhaseBlocked means a dependency failed, so the phase never ran.
	PhaseBlocked PhaseStatus = "blocked"
)

// FailureReport records why a phase (or one of its tasks) failed, with
// enough structure that a caller can decide whether to retry the run.
type FailureReport struct {
	Phase     string            `json:"phase"`
	Task      string            `json:"task,omitempty"`
	NodeID    string            `json:"node_id,omitempty"`
	Class     errors.ErrorClass `json:"-"`
	ClassName string            `json:"class"`
	Message   string            `json:"message"`
	Time      time.Time         `json:"time"`
}

// RunReport is the final accounting for a run.
type RunReport struct {
	ProjectID string                        `json:"project_id"`
	State     RunState                      `json:"state"`
	Phases    map[string]PhaseStatus        `json:"phases"`
	Failures  []*FailureReport              `json:"failures,omitempty"`
	Artifacts map[string]*artifact.Artifact `json:"-"`

	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`

	CacheStats cache.Stats   `json:"cache_stats"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether every phase that ran completed.
func (r *RunReport) Succeeded() bool {
	return r.State == RunStateComplete
}
