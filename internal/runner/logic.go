package runner

import (
	"context"

	"github.com/chorus-dao/kodo/internal/model"
)

// Logic is the runner's seam to a charter's decision-making black box. The
// runner gates whether Decide runs, passes the gate's ceilings as limits,
// and records the structured result; it never inspects how the logic
// reasons. Decide runs under the cycle timeout and must respect ctx
// cancellation.
type Logic interface {
	Decide(ctx context.Context, limits model.RunLimits, history []model.Heartbeat) (model.RunReport, error)
}

// LogicFunc adapts a function to the Logic interface.
type LogicFunc func(ctx context.Context, limits model.RunLimits, history []model.Heartbeat) (model.RunReport, error)

func (f LogicFunc) Decide(ctx context.Context, limits model.RunLimits, history []model.Heartbeat) (model.RunReport, error) {
	return f(ctx, limits, history)
}

// GatePolicy decides the gate contents the owner writes at the start of its
// cycle. prior is nil when no gate exists yet.
type GatePolicy interface {
	PlanGate(ctx context.Context, prior *model.BudgetGate, history []model.Heartbeat) (model.GateUpdate, error)
}

// Hook receives async notifications when protocol events occur. Hook methods
// run in goroutines; failures are logged and never fail the originating
// cycle.
type Hook interface {
	OnHeartbeat(ctx context.Context, hb model.Heartbeat) error
	OnGateWrite(ctx context.Context, g model.BudgetGate) error
	OnDecisionRecorded(ctx context.Context, charterID, decisionID string) error
}
