// Package scheduler drives charter cycles on a fixed cadence.
//
// Within each tick the gate owner's runner executes first and alone; the
// remaining runners then execute concurrently. That barrier makes the
// owner's gate write causally precede every other runner's read of the same
// cycle's gate. Per charter, invocations are strictly sequential: the next
// tick does not start until every runner from the previous tick has
// terminated.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chorus-dao/kodo/internal/runner"
)

// Scheduler ticks all registered runners.
type Scheduler struct {
	interval time.Duration
	runners  []*runner.Runner
	logger   *slog.Logger
	wake     chan struct{}
}

// New creates a scheduler over the given runners.
func New(interval time.Duration, runners []*runner.Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		runners:  runners,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Run ticks until ctx is cancelled. The first tick fires immediately.
// Cycle failures are logged and do not stop the scheduler; a protocol-fatal
// runner error (permission denial, unwritable heartbeat) is also logged and
// the affected charter simply skips the cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.wake:
			s.tickFollowers(ctx)
		}
	}
}

// Wake schedules an out-of-band pass over the non-owner runners, so a gate
// committed outside this process is observed before the next tick. Wakes
// arriving while a pass is pending coalesce into one.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Tick executes one full scheduling round: the gate owner first, then all
// other runners concurrently. Blocks until every cycle has terminated.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, r := range s.runners {
		if r.IsGateOwner() {
			s.runOne(ctx, r)
		}
	}
	s.tickFollowers(ctx)
}

// tickFollowers runs every non-owner runner concurrently. Also the body of a
// Wake pass: the owner is excluded so an externally committed gate never
// triggers an off-cadence gate write.
func (s *Scheduler) tickFollowers(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		if r.IsGateOwner() {
			continue
		}
		g.Go(func() error {
			s.runOne(gctx, r)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, r *runner.Runner) {
	if ctx.Err() != nil {
		return
	}
	hb, err := r.RunCycle(ctx)
	if err != nil {
		s.logger.Error("scheduler: cycle aborted", "charter_id", r.CharterID(), "error", err)
		return
	}
	if hb.Failure != nil {
		s.logger.Warn("scheduler: cycle reported failure",
			"charter_id", r.CharterID(), "failure", *hb.Failure)
	}
}
