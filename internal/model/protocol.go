package model

import "time"

// Role is a charter's protocol role.
type Role string

const (
	// RoleGateOwner may write the budget gate. Exactly one charter holds it.
	RoleGateOwner Role = "gate_owner"
	// RoleCharter may run cycles and write its own heartbeat and decisions.
	RoleCharter Role = "charter"
)

// BudgetStatus summarizes how much headroom the budget has left.
type BudgetStatus string

const (
	BudgetOK       BudgetStatus = "ok"
	BudgetWarn     BudgetStatus = "warn"
	BudgetCritical BudgetStatus = "critical"
)

// Outcome is the per-cycle heartbeat decision.
type Outcome string

const (
	OutcomeRan  Outcome = "ran"
	OutcomeNoOp Outcome = "no-op"
)

// NoOpReason explains why a cycle produced no run.
type NoOpReason string

const (
	// NoOpBlocked: the gate was missing or stale, so its contents cannot be trusted.
	NoOpBlocked NoOpReason = "blocked"
	// NoOpVeto: the gate was fresh and allow_runs=false.
	NoOpVeto NoOpReason = "veto"
)

// RunLimits carries the gate's resource ceilings into a charter run.
// Exceeding any ceiling is a protocol violation; the runner discards the
// result and records a failure heartbeat.
type RunLimits struct {
	MaxTokens           int `json:"max_tokens_per_charter_run"`
	MaxToolCalls        int `json:"max_tool_calls_per_charter_run"`
	MaxBrainSpawnsPerHr int `json:"max_brain_spawns_per_hour"`
}

// Usage is the resource consumption a charter run reports back.
type Usage struct {
	Tokens      int `json:"tokens"`
	ToolCalls   int `json:"tool_calls"`
	BrainSpawns int `json:"brain_spawns"`
}

// EDODraft is a decision record proposed by charter logic. The runner writes
// it only when at least two alternatives were genuinely weighed.
type EDODraft struct {
	Alternatives []string `json:"alternatives_considered"`
	Chosen       string   `json:"chosen"`
	Rationale    string   `json:"rationale"`
	// CloseThread marks the decision thread closed, after which the record
	// can no longer be updated.
	CloseThread bool `json:"close_thread,omitempty"`
}

// RunReport is what charter logic returns from a cycle.
type RunReport struct {
	Decision Outcome   `json:"decision"`
	Summary  string    `json:"summary"`
	Usage    Usage     `json:"usage"`
	EDO      *EDODraft `json:"edo,omitempty"`
}

// GateUpdate is the gate owner's proposed gate contents for a cycle.
// The gate service stamps updated_at and recomputes the burn-rate trend;
// callers only choose the switch and the ceilings.
type GateUpdate struct {
	AllowRuns           bool `json:"allow_runs"`
	MaxTokens           int  `json:"max_tokens_per_charter_run"`
	MaxToolCalls        int  `json:"max_tool_calls_per_charter_run"`
	MaxBrainSpawnsPerHr int  `json:"max_brain_spawns_per_hour"`
}

// Clock abstracts wall-clock time so cycles are testable against staleness
// thresholds without sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
