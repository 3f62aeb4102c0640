package kodo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-dao/kodo"
	"github.com/chorus-dao/kodo/internal/testutil"
)

func TestNewRejectsOwnerOutsideRoster(t *testing.T) {
	_, err := kodo.New(
		kodo.WithLogger(testutil.TestLogger()),
		kodo.WithInMemoryStore(),
		kodo.WithCharter("sustainability", nil),
		kodo.WithGateOwner("govern"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "charter roster")
}

func TestAppTickRunsCharters(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	ran := make(chan string, 2)
	logic := kodo.LogicFunc(func(_ context.Context, limits kodo.RunLimits, _ []kodo.HeartbeatView) (kodo.RunReport, error) {
		ran <- "cycle"
		assert.Positive(t, limits.MaxTokens, "limits come from the owner's gate")
		return kodo.RunReport{Decision: kodo.OutcomeRan, Summary: "ok"}, nil
	})

	app, err := kodo.New(
		kodo.WithLogger(testutil.TestLogger()),
		kodo.WithInMemoryStore(),
		kodo.WithClock(kodo.ClockFunc(func() time.Time { return now })),
		kodo.WithCharter("govern", logic),
		kodo.WithCharter("sustainability", logic),
		kodo.WithGateOwner("govern"),
	)
	require.NoError(t, err)

	app.Tick(context.Background())

	// Both charters ran: the owner wrote a fresh permissive gate first.
	require.Len(t, drain(ran), 2)

	require.NoError(t, app.Shutdown(context.Background()))
}

// recordingHook captures public-typed protocol notifications.
type recordingHook struct {
	gates      chan kodo.GateView
	heartbeats chan kodo.HeartbeatView
	decisions  chan string
}

func newRecordingHook() *recordingHook {
	return &recordingHook{
		gates:      make(chan kodo.GateView, 8),
		heartbeats: make(chan kodo.HeartbeatView, 8),
		decisions:  make(chan string, 8),
	}
}

func (h *recordingHook) OnHeartbeat(_ context.Context, hb kodo.HeartbeatView) error {
	h.heartbeats <- hb
	return nil
}

func (h *recordingHook) OnGateWrite(_ context.Context, g kodo.GateView) error {
	h.gates <- g
	return nil
}

func (h *recordingHook) OnDecisionRecorded(_ context.Context, _, id string) error {
	h.decisions <- id
	return nil
}

func TestHooksAndHistoryCrossPublicBoundary(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	hook := newRecordingHook()

	histories := make(chan []kodo.HeartbeatView, 2)
	logic := kodo.LogicFunc(func(_ context.Context, _ kodo.RunLimits, history []kodo.HeartbeatView) (kodo.RunReport, error) {
		histories <- history
		return kodo.RunReport{
			Decision: kodo.OutcomeRan,
			Summary:  "governed",
			EDO: &kodo.EDODraft{
				Alternatives: []string{"renew mandate", "sunset program"},
				Chosen:       "renew mandate",
				Rationale:    "participation is still above quorum",
			},
		}, nil
	})

	app, err := kodo.New(
		kodo.WithLogger(testutil.TestLogger()),
		kodo.WithInMemoryStore(),
		kodo.WithClock(kodo.ClockFunc(func() time.Time { return now })),
		kodo.WithCharter("govern", logic),
		kodo.WithGateOwner("govern"),
		kodo.WithEventHook(hook),
	)
	require.NoError(t, err)
	defer app.Shutdown(context.Background())

	app.Tick(context.Background())
	require.Empty(t, <-histories, "first cycle has no prior heartbeats")

	select {
	case g := <-hook.gates:
		assert.True(t, g.AllowRuns)
		assert.Equal(t, kodo.BudgetOK, g.BudgetStatus)
		assert.Equal(t, now, g.UpdatedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gate hook")
	}
	select {
	case id := <-hook.decisions:
		assert.Len(t, id, 32)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decision hook")
	}
	select {
	case hb := <-hook.heartbeats:
		assert.Equal(t, "govern", hb.CharterID)
		assert.Equal(t, kodo.OutcomeRan, hb.Decision)
		assert.Nil(t, hb.NoOpReason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat hook")
	}

	app.Tick(context.Background())
	history := <-histories
	require.NotEmpty(t, history, "second cycle sees the first cycle's heartbeat")
	assert.Equal(t, kodo.OutcomeRan, history[0].Decision)
	assert.Equal(t, "governed", history[0].Summary)
}

func drain(ch chan string) []string {
	var out []string
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
