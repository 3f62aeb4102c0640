package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-dao/kodo/internal/model"
)

func TestBudgetGateValidate(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	valid := model.BudgetGate{
		AllowRuns:           true,
		MaxTokens:           200_000,
		MaxToolCalls:        100,
		MaxBrainSpawnsPerHr: 10,
		BudgetStatus:        model.BudgetOK,
		UpdatedAt:           now,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*model.BudgetGate)
	}{
		{"invalid status", func(g *model.BudgetGate) { g.BudgetStatus = "fine" }},
		{"negative tokens", func(g *model.BudgetGate) { g.MaxTokens = -1 }},
		{"negative tool calls", func(g *model.BudgetGate) { g.MaxToolCalls = -1 }},
		{"zero updated_at", func(g *model.BudgetGate) { g.UpdatedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := valid
			tt.mutate(&g)
			assert.Error(t, g.Validate())
		})
	}
}

func TestHeartbeatValidate(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	veto := model.NoOpVeto
	bad := model.NoOpReason("bored")

	tests := []struct {
		name    string
		hb      model.Heartbeat
		wantErr bool
	}{
		{
			name: "ran",
			hb:   model.Heartbeat{CharterID: "govern", Timestamp: now, Decision: model.OutcomeRan, Summary: "rotated keys"},
		},
		{
			name: "no-op with veto reason",
			hb:   model.Heartbeat{CharterID: "govern", Timestamp: now, Decision: model.OutcomeNoOp, NoOpReason: &veto},
		},
		{
			name: "no-op without reason",
			hb:   model.Heartbeat{CharterID: "govern", Timestamp: now, Decision: model.OutcomeNoOp, Summary: "nothing to do"},
		},
		{
			name:    "ran with reason",
			hb:      model.Heartbeat{CharterID: "govern", Timestamp: now, Decision: model.OutcomeRan, NoOpReason: &veto},
			wantErr: true,
		},
		{
			name:    "invalid reason",
			hb:      model.Heartbeat{CharterID: "govern", Timestamp: now, Decision: model.OutcomeNoOp, NoOpReason: &bad},
			wantErr: true,
		},
		{
			name:    "invalid decision",
			hb:      model.Heartbeat{CharterID: "govern", Timestamp: now, Decision: "skipped"},
			wantErr: true,
		},
		{
			name:    "missing charter",
			hb:      model.Heartbeat{Timestamp: now, Decision: model.OutcomeRan},
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			hb:      model.Heartbeat{CharterID: "govern", Decision: model.OutcomeRan},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hb.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFailedHeartbeatCarriesFailure(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	hb := model.Failed("govern", now, "charter logic timeout after 10m0s")

	require.NoError(t, hb.Validate())
	require.NotNil(t, hb.Failure)
	assert.Equal(t, "charter logic timeout after 10m0s", *hb.Failure)
	assert.Contains(t, hb.Summary, "cycle failed")
}

func TestEDOValidate(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	valid := model.EDO{
		ID:           "abc123",
		CharterID:    "govern",
		Alternatives: []string{"rotate now", "defer to next window"},
		Chosen:       "rotate now",
		Rationale:    "expiry within 48h",
		CreatedAt:    now,
		UpdatedAt:    now,
		Open:         true,
	}
	require.NoError(t, valid.Validate())

	single := valid
	single.Alternatives = []string{"rotate now"}
	assert.Error(t, single.Validate(), "single alternative must be rejected")

	noChosen := valid
	noChosen.Chosen = ""
	assert.Error(t, noChosen.Validate())
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "governance/heartbeats/govern.json", model.HeartbeatPath("govern"))
	assert.Equal(t, "governance/decisions/deadbeef.json", model.DecisionPath("deadbeef"))
}
