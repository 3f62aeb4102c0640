package gate

import (
	"fmt"
	"time"

	"github.com/chorus-dao/kodo/internal/model"
)

// BurnRate aggregates charters' most recent heartbeats inside the trailing
// window into a trend summary and a derived budget status. The status tracks
// the share of cycles that failed or were vetoed: under a quarter is ok,
// under half is warn, at or above half is critical.
func BurnRate(hbs []model.Heartbeat, now time.Time, window time.Duration) (string, model.BudgetStatus) {
	var ran, noop, veto, blocked, failed int
	for _, hb := range hbs {
		if now.Sub(hb.Timestamp) > window {
			continue
		}
		switch {
		case hb.Failure != nil:
			failed++
		case hb.Decision == model.OutcomeRan:
			ran++
		default:
			noop++
			if hb.NoOpReason != nil {
				switch *hb.NoOpReason {
				case model.NoOpVeto:
					veto++
				case model.NoOpBlocked:
					blocked++
				}
			}
		}
	}

	total := ran + noop + failed
	if total == 0 {
		return fmt.Sprintf("no heartbeats in trailing %s", window), model.BudgetOK
	}

	trend := fmt.Sprintf("trailing %s: %d ran, %d no-op (%d veto, %d blocked), %d failed",
		window, ran, noop, veto, blocked, failed)

	share := float64(failed+veto) / float64(total)
	switch {
	case share >= 0.5:
		return trend, model.BudgetCritical
	case share >= 0.25:
		return trend, model.BudgetWarn
	default:
		return trend, model.BudgetOK
	}
}
