package model

import (
	"fmt"
	"time"
)

// Heartbeat is the per-cycle outcome record for one charter. The current
// record is overwritten each cycle; history is retained by the store's
// commit log.
type Heartbeat struct {
	CharterID  string      `json:"charter_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Decision   Outcome     `json:"decision"`
	NoOpReason *NoOpReason `json:"no_op_reason,omitempty"`
	Summary    string      `json:"summary"`
	// Failure records a reportable cycle failure (charter logic timeout,
	// ceiling violation, repeated write conflict). The cycle still
	// terminated; the failure is non-fatal to the system.
	Failure *string `json:"failure,omitempty"`
}

// Validate checks heartbeat field constraints and the decision/reason pairing.
func (h Heartbeat) Validate() error {
	if h.CharterID == "" {
		return fmt.Errorf("model: heartbeat charter_id is required")
	}
	if h.Timestamp.IsZero() {
		return fmt.Errorf("model: heartbeat timestamp is required")
	}
	switch h.Decision {
	case OutcomeRan:
		if h.NoOpReason != nil {
			return fmt.Errorf("model: decision=ran must not carry a no_op_reason")
		}
	case OutcomeNoOp:
		if h.NoOpReason != nil {
			switch *h.NoOpReason {
			case NoOpBlocked, NoOpVeto:
			default:
				return fmt.Errorf("model: invalid no_op_reason %q", *h.NoOpReason)
			}
		}
	default:
		return fmt.Errorf("model: invalid decision %q", h.Decision)
	}
	return nil
}

// NoOp builds a protocol no-op heartbeat for the given reason.
func NoOp(charterID string, at time.Time, reason NoOpReason, summary string) Heartbeat {
	r := reason
	return Heartbeat{
		CharterID:  charterID,
		Timestamp:  at,
		Decision:   OutcomeNoOp,
		NoOpReason: &r,
		Summary:    summary,
	}
}

// Failed builds a heartbeat recording a reportable cycle failure.
func Failed(charterID string, at time.Time, failure string) Heartbeat {
	f := failure
	return Heartbeat{
		CharterID: charterID,
		Timestamp: at,
		Decision:  OutcomeRan,
		Summary:   "cycle failed: " + failure,
		Failure:   &f,
	}
}
