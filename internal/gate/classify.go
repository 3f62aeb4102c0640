// Package gate implements the budget gate and per-charter heartbeat records:
// the single shared record that controls whether charters may run, the pure
// staleness/veto classifier every runner consults, and the owner-only write
// path that recomputes the burn-rate trend.
package gate

import (
	"time"

	"github.com/chorus-dao/kodo/internal/model"
)

// Classification is the classifier's verdict on the current gate.
type Classification int

const (
	// Usable: the gate is present, fresh, and allows runs.
	Usable Classification = iota
	// BlockedMissing: no gate record exists.
	BlockedMissing
	// BlockedStale: the gate's updated_at exceeds the freshness threshold,
	// so its contents (including allow_runs) cannot be trusted.
	BlockedStale
	// Vetoed: the gate is fresh and allow_runs=false.
	Vetoed
)

func (c Classification) String() string {
	switch c {
	case Usable:
		return "usable"
	case BlockedMissing:
		return "blocked(missing)"
	case BlockedStale:
		return "blocked(stale)"
	case Vetoed:
		return "vetoed"
	default:
		return "unknown"
	}
}

// Blocked reports whether the classification is either blocked variant.
func (c Classification) Blocked() bool {
	return c == BlockedMissing || c == BlockedStale
}

// Classify evaluates the gate for a runner. Check order is a hard contract:
// missing, then stale, then veto — a stale gate's allow_runs value is never
// consulted. Pure: no I/O, no clock reads.
func Classify(g *model.BudgetGate, now time.Time, staleAfter time.Duration) Classification {
	if g == nil {
		return BlockedMissing
	}
	if now.Sub(g.UpdatedAt) > staleAfter {
		return BlockedStale
	}
	if !g.AllowRuns {
		return Vetoed
	}
	return Usable
}
