// Package runner implements the per-charter heartbeat cycle as a one-pass
// state machine:
//
//	Idle → Evaluating → {NoOp-Blocked, NoOp-Veto, Running} → Completed
//
// A cycle terminates in exactly one terminal state and carries no state into
// the next cycle. The gate owner's cycle additionally writes the gate as
// step 0 of Running, before its own heartbeat (write-before-report).
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/edo"
	"github.com/chorus-dao/kodo/internal/gate"
	"github.com/chorus-dao/kodo/internal/model"
)

// Config holds per-runner tuning.
type Config struct {
	// CycleTimeout bounds the charter logic call. On expiry the cycle
	// completes with a failure heartbeat; it never stays open.
	CycleTimeout time.Duration
	// HistoryLimit is how many prior heartbeats charter logic receives.
	HistoryLimit int
}

// Runner executes heartbeat cycles for one charter. Cycles for the same
// charter never overlap (the scheduler serializes them); cycles of different
// charters may run concurrently.
type Runner struct {
	charterID  string
	logic      Logic
	policy     GatePolicy
	gates      *gate.Service
	heartbeats *gate.Heartbeats
	decisions  *edo.Log
	reg        *authz.Registry
	clock      model.Clock
	cfg        Config
	hooks      []Hook
	logger     *slog.Logger
	metrics    *metrics
}

// Params collects Runner construction dependencies.
type Params struct {
	CharterID  string
	Logic      Logic
	GatePolicy GatePolicy // consulted only when the charter owns the gate
	Gates      *gate.Service
	Heartbeats *gate.Heartbeats
	Decisions  *edo.Log
	Registry   *authz.Registry
	Clock      model.Clock
	Config     Config
	Hooks      []Hook
	Logger     *slog.Logger
}

// New creates a runner for one charter.
func New(p Params) *Runner {
	return &Runner{
		charterID:  p.CharterID,
		logic:      p.Logic,
		policy:     p.GatePolicy,
		gates:      p.Gates,
		heartbeats: p.Heartbeats,
		decisions:  p.Decisions,
		reg:        p.Registry,
		clock:      p.Clock,
		cfg:        p.Config,
		hooks:      p.Hooks,
		logger:     p.Logger.With("charter_id", p.CharterID),
		metrics:    newMetrics(p.Logger),
	}
}

// CharterID returns the charter this runner executes for.
func (r *Runner) CharterID() string { return r.charterID }

// IsGateOwner reports whether this runner's charter holds the gate-owner role.
func (r *Runner) IsGateOwner() bool {
	return r.reg.Has(r.charterID, model.RoleGateOwner)
}

// RunCycle executes one full cycle and returns the heartbeat it wrote.
// Reportable failures (logic timeout, ceiling violation, exhausted write
// retries on the decision log) are recorded in the heartbeat and return a
// nil error; only protocol-fatal conditions (permission denial, an
// unwritable heartbeat) return a non-nil error.
func (r *Runner) RunCycle(ctx context.Context) (model.Heartbeat, error) {
	// Evaluating: read the current gate.
	g, _, err := r.gates.Read(ctx)
	if err != nil {
		return r.completeFailure(ctx, fmt.Sprintf("gate read failed: %v", err))
	}

	if r.IsGateOwner() {
		return r.runOwnerCycle(ctx, g)
	}

	switch cls := r.gates.Classify(g); {
	case cls.Blocked():
		return r.completeNoOp(ctx, model.NoOpBlocked, "gate "+cls.String())
	case cls == gate.Vetoed:
		return r.completeNoOp(ctx, model.NoOpVeto, "runs vetoed by gate")
	}

	return r.runCharterLogic(ctx, g)
}

// runOwnerCycle is the gate owner's path: writeGate is step 0 of Running,
// before any charter logic and before the owner's own heartbeat. The owner
// is not subject to its own staleness block — it replaces a missing or stale
// gate rather than no-oping on it.
func (r *Runner) runOwnerCycle(ctx context.Context, prior *model.BudgetGate) (model.Heartbeat, error) {
	history, err := r.history(ctx)
	if err != nil {
		return r.completeFailure(ctx, fmt.Sprintf("heartbeat history read failed: %v", err))
	}

	update, err := r.planGate(ctx, prior, history)
	if err != nil {
		return r.completeFailure(ctx, fmt.Sprintf("gate policy failed: %v", err))
	}

	written, err := r.gates.Write(ctx, r.charterID, update)
	if err != nil {
		if errors.Is(err, authz.ErrPermissionDenied) {
			// Fatal: abort with no partial writes, not even a heartbeat.
			return model.Heartbeat{}, err
		}
		return r.completeFailure(ctx, fmt.Sprintf("gate write failed: %v", err))
	}
	r.notifyGateWrite(written)

	// The gate just written is fresh by construction; only a veto can stop
	// the owner now.
	if !written.AllowRuns {
		return r.completeNoOp(ctx, model.NoOpVeto, "runs vetoed by gate")
	}
	return r.runCharterLogic(ctx, &written)
}

// runCharterLogic is the Running state: invoke the external collaborator
// under the cycle timeout with the gate's ceilings, then report.
func (r *Runner) runCharterLogic(ctx context.Context, g *model.BudgetGate) (model.Heartbeat, error) {
	history, err := r.history(ctx)
	if err != nil {
		return r.completeFailure(ctx, fmt.Sprintf("heartbeat history read failed: %v", err))
	}

	limits := g.Limits()
	report, err := r.decide(ctx, limits, history)
	if err != nil {
		return r.completeFailure(ctx, err.Error())
	}

	if violation := checkLimits(report.Usage, limits); violation != "" {
		// Protocol violation: the result is discarded, never silently
		// permitted.
		return r.completeFailure(ctx, violation)
	}

	switch report.Decision {
	case model.OutcomeNoOp:
		if report.EDO != nil {
			r.logger.Warn("decision draft ignored for no-op run")
		}
		hb := model.Heartbeat{
			CharterID: r.charterID,
			Timestamp: r.clock.Now().UTC(),
			Decision:  model.OutcomeNoOp,
			Summary:   report.Summary,
		}
		return hb, r.complete(ctx, hb)

	case model.OutcomeRan:
		if report.EDO != nil && len(report.EDO.Alternatives) >= 2 {
			rec, err := r.decisions.Append(ctx, r.charterID, *report.EDO)
			if err != nil {
				return r.completeFailure(ctx, fmt.Sprintf("decision log write failed: %v", err))
			}
			r.metrics.add(ctx, r.metrics.decisions, r.charterID)
			r.notifyDecision(rec.ID)
		}
		hb := model.Heartbeat{
			CharterID: r.charterID,
			Timestamp: r.clock.Now().UTC(),
			Decision:  model.OutcomeRan,
			Summary:   report.Summary,
		}
		return hb, r.complete(ctx, hb)

	default:
		return r.completeFailure(ctx, fmt.Sprintf("charter logic returned invalid decision %q", report.Decision))
	}
}

// decide invokes charter logic in a goroutine and enforces the cycle timeout
// even against an implementation that ignores ctx.
func (r *Runner) decide(ctx context.Context, limits model.RunLimits, history []model.Heartbeat) (model.RunReport, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	defer cancel()

	type result struct {
		report model.RunReport
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		rep, err := r.logic.Decide(cctx, limits, history)
		ch <- result{rep, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return model.RunReport{}, fmt.Errorf("charter logic timeout after %s", r.cfg.CycleTimeout)
			}
			return model.RunReport{}, fmt.Errorf("charter logic error: %v", res.err)
		}
		return res.report, nil
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return model.RunReport{}, fmt.Errorf("charter logic timeout after %s", r.cfg.CycleTimeout)
		}
		return model.RunReport{}, fmt.Errorf("cycle cancelled: %v", cctx.Err())
	}
}

func checkLimits(u model.Usage, l model.RunLimits) string {
	switch {
	case u.Tokens > l.MaxTokens:
		return fmt.Sprintf("resource ceiling exceeded: tokens %d > %d", u.Tokens, l.MaxTokens)
	case u.ToolCalls > l.MaxToolCalls:
		return fmt.Sprintf("resource ceiling exceeded: tool calls %d > %d", u.ToolCalls, l.MaxToolCalls)
	case u.BrainSpawns > l.MaxBrainSpawnsPerHr:
		return fmt.Sprintf("resource ceiling exceeded: brain spawns %d > %d", u.BrainSpawns, l.MaxBrainSpawnsPerHr)
	}
	return ""
}

func (r *Runner) planGate(ctx context.Context, prior *model.BudgetGate, history []model.Heartbeat) (model.GateUpdate, error) {
	if r.policy != nil {
		return r.policy.PlanGate(ctx, prior, history)
	}
	// Keep-or-default policy: carry the prior gate forward, or open a
	// permissive default when none exists.
	if prior != nil {
		return model.GateUpdate{
			AllowRuns:           prior.AllowRuns,
			MaxTokens:           prior.MaxTokens,
			MaxToolCalls:        prior.MaxToolCalls,
			MaxBrainSpawnsPerHr: prior.MaxBrainSpawnsPerHr,
		}, nil
	}
	return model.GateUpdate{
		AllowRuns:           true,
		MaxTokens:           defaultMaxTokens,
		MaxToolCalls:        defaultMaxToolCalls,
		MaxBrainSpawnsPerHr: defaultMaxBrainSpawns,
	}, nil
}

const (
	defaultMaxTokens      = 200_000
	defaultMaxToolCalls   = 100
	defaultMaxBrainSpawns = 10
)

func (r *Runner) history(ctx context.Context) ([]model.Heartbeat, error) {
	return r.heartbeats.History(ctx, r.charterID, r.cfg.HistoryLimit)
}

// completeNoOp writes a protocol no-op heartbeat and terminates the cycle.
func (r *Runner) completeNoOp(ctx context.Context, reason model.NoOpReason, summary string) (model.Heartbeat, error) {
	hb := model.NoOp(r.charterID, r.clock.Now().UTC(), reason, summary)
	r.metrics.add(ctx, r.metrics.noops, r.charterID)
	return hb, r.complete(ctx, hb)
}

// completeFailure writes a failure heartbeat and terminates the cycle. The
// failure is reportable but non-fatal: the charter simply did not complete
// this cycle.
func (r *Runner) completeFailure(ctx context.Context, failure string) (model.Heartbeat, error) {
	hb := model.Failed(r.charterID, r.clock.Now().UTC(), failure)
	r.metrics.add(ctx, r.metrics.failures, r.charterID)
	r.logger.Warn("cycle failed", "failure", failure)
	return hb, r.complete(ctx, hb)
}

// complete writes the heartbeat (Completed state). An unwritable heartbeat
// is the one protocol-fatal outcome of a cycle.
func (r *Runner) complete(ctx context.Context, hb model.Heartbeat) error {
	if err := r.heartbeats.Write(ctx, hb); err != nil {
		return fmt.Errorf("runner: write heartbeat for %s: %w", r.charterID, err)
	}
	r.metrics.add(ctx, r.metrics.cycles, r.charterID)
	r.logger.Info("cycle complete",
		"decision", string(hb.Decision),
		"no_op_reason", noOpReasonString(hb.NoOpReason),
		"failed", hb.Failure != nil)
	r.notifyHeartbeat(hb)
	return nil
}

func noOpReasonString(r *model.NoOpReason) string {
	if r == nil {
		return ""
	}
	return string(*r)
}

func (r *Runner) notifyHeartbeat(hb model.Heartbeat) {
	for _, h := range r.hooks {
		go func() {
			if err := h.OnHeartbeat(context.Background(), hb); err != nil {
				r.logger.Warn("heartbeat hook failed", "error", err)
			}
		}()
	}
}

func (r *Runner) notifyGateWrite(g model.BudgetGate) {
	for _, h := range r.hooks {
		go func() {
			if err := h.OnGateWrite(context.Background(), g); err != nil {
				r.logger.Warn("gate hook failed", "error", err)
			}
		}()
	}
}

func (r *Runner) notifyDecision(id string) {
	for _, h := range r.hooks {
		go func() {
			if err := h.OnDecisionRecorded(context.Background(), r.charterID, id); err != nil {
				r.logger.Warn("decision hook failed", "error", err)
			}
		}()
	}
}
