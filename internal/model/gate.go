// Package model defines the core domain types for the governance heartbeat
// protocol: the budget gate, per-charter heartbeats, and EDO decision records.
//
// All types correspond directly to persisted governance documents. Types use
// strong typing (enums, time.Time) and avoid interface{} wherever possible.
package model

import (
	"fmt"
	"time"
)

// Document paths in the governance store. Every record is a whole-document
// replace against the persistence layer.
const (
	GatePath        = "governance/budget-gate.json"
	HeartbeatPrefix = "governance/heartbeats/"
	DecisionPrefix  = "governance/decisions/"
	IndexPath       = "governance/decisions/index.json"
)

// HeartbeatPath returns the document path for a charter's current heartbeat.
func HeartbeatPath(charterID string) string {
	return HeartbeatPrefix + charterID + ".json"
}

// DecisionPath returns the document path for an EDO record.
func DecisionPath(id string) string {
	return DecisionPrefix + id + ".json"
}

// BudgetGate is the single shared record controlling whether any charter may
// run and under what resource ceilings. Exactly one charter (the gate owner)
// writes it; all others read it.
type BudgetGate struct {
	AllowRuns           bool              `json:"allow_runs"`
	MaxTokens           int               `json:"max_tokens_per_charter_run"`
	MaxToolCalls        int               `json:"max_tool_calls_per_charter_run"`
	MaxBrainSpawnsPerHr int               `json:"max_brain_spawns_per_hour"`
	BudgetStatus        BudgetStatus `json:"budget_status"`
	BurnRateTrend       string       `json:"burn_rate_trend"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Validate checks gate field constraints.
func (g BudgetGate) Validate() error {
	switch g.BudgetStatus {
	case BudgetOK, BudgetWarn, BudgetCritical:
	default:
		return fmt.Errorf("model: invalid budget_status %q", g.BudgetStatus)
	}
	if g.MaxTokens < 0 || g.MaxToolCalls < 0 || g.MaxBrainSpawnsPerHr < 0 {
		return fmt.Errorf("model: gate ceilings must be >= 0")
	}
	if g.UpdatedAt.IsZero() {
		return fmt.Errorf("model: gate updated_at is required")
	}
	return nil
}

// Limits returns the gate's ceilings as run limits for charter logic.
func (g BudgetGate) Limits() RunLimits {
	return RunLimits{
		MaxTokens:           g.MaxTokens,
		MaxToolCalls:        g.MaxToolCalls,
		MaxBrainSpawnsPerHr: g.MaxBrainSpawnsPerHr,
	}
}

