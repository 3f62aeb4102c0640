package kodo

import (
	"context"
	"time"
)

// CharterLogic is a charter's decision-making black box. The protocol does
// not inspect how it reasons; it only gates whether Decide runs, passes the
// gate's ceilings as limits, and records the structured result. Decide is
// called under the configured cycle timeout and must respect ctx cancellation.
// Implementations must not assume the call is fast or deterministic.
type CharterLogic interface {
	Decide(ctx context.Context, limits RunLimits, history []HeartbeatView) (RunReport, error)
}

// LogicFunc adapts a function to the CharterLogic interface.
type LogicFunc func(ctx context.Context, limits RunLimits, history []HeartbeatView) (RunReport, error)

func (f LogicFunc) Decide(ctx context.Context, limits RunLimits, history []HeartbeatView) (RunReport, error) {
	return f(ctx, limits, history)
}

// GatePolicy decides the gate contents the owner writes at the start of its
// cycle. prior is nil when no gate exists yet. When not provided via
// WithGatePolicy, a keep-or-default policy is used.
type GatePolicy interface {
	PlanGate(ctx context.Context, prior *GateView, history []HeartbeatView) (GateUpdate, error)
}

// GateView is the public read-only view of the budget gate.
type GateView struct {
	AllowRuns           bool
	MaxTokens           int
	MaxToolCalls        int
	MaxBrainSpawnsPerHr int
	BudgetStatus        BudgetStatus
	BurnRateTrend       string
	UpdatedAt           time.Time
}

// EventHook receives async notifications when protocol events occur.
// Multiple hooks may be registered via multiple WithEventHook calls.
// Hook methods run in goroutines — they must not block indefinitely.
// Failures are logged but do not fail the originating cycle.
type EventHook interface {
	OnHeartbeat(ctx context.Context, hb HeartbeatView) error
	OnGateWrite(ctx context.Context, gate GateView) error
	OnDecisionRecorded(ctx context.Context, charterID, decisionID string) error
}

// Clock abstracts wall-clock time so cycles are testable against staleness
// thresholds without sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
