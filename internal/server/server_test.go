package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/edo"
	"github.com/chorus-dao/kodo/internal/gate"
	"github.com/chorus-dao/kodo/internal/model"
	"github.com/chorus-dao/kodo/internal/server"
	"github.com/chorus-dao/kodo/internal/testutil"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler    http.Handler
	gates      *gate.Service
	heartbeats *gate.Heartbeats
	decisions  *edo.Log
	store      docstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testutil.TestLogger()
	clock := model.ClockFunc(func() time.Time { return testNow })
	store := docstore.NewMemoryStore()

	reg := authz.NewRegistry()
	require.NoError(t, reg.Grant("govern", model.RoleCharter))
	require.NoError(t, reg.Grant("govern", model.RoleGateOwner))
	require.NoError(t, reg.Grant("sustainability", model.RoleCharter))

	heartbeats := gate.NewHeartbeats(store, 1, logger)
	gates := gate.NewService(gate.ServiceConfig{
		Store: store, Registry: reg, Heartbeats: heartbeats, Clock: clock,
		StaleAfter: 30 * time.Minute, BurnWindow: 24 * time.Hour, Retries: 1, Logger: logger,
	})
	decisions := edo.NewLog(store, clock, 1, logger)

	srv := server.New(server.ServerConfig{
		Gate:         gates,
		Heartbeats:   heartbeats,
		Decisions:    decisions,
		Logger:       logger,
		Port:         8089,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		Version:      "test",
	})
	return &fixture{
		handler:    srv.Handler(),
		gates:      gates,
		heartbeats: heartbeats,
		decisions:  decisions,
		store:      store,
	}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.get(t, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetGate(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/v1/gate")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Nil(t, data["gate"])
	assert.Equal(t, "blocked(missing)", data["classification"])

	_, err := f.gates.Write(context.Background(), "govern", model.GateUpdate{
		AllowRuns: true, MaxTokens: 1000,
	})
	require.NoError(t, err)

	rec, body = f.get(t, "/v1/gate")
	assert.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].(map[string]any)
	require.NotNil(t, data["gate"])
	assert.Equal(t, "usable", data["classification"])
	assert.Equal(t, float64(1), data["revision"])

	g := data["gate"].(map[string]any)
	assert.Equal(t, true, g["allow_runs"])
	assert.Equal(t, float64(1000), g["max_tokens_per_charter_run"])
}

func TestGetHeartbeats(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.heartbeats.Write(context.Background(), model.Heartbeat{
		CharterID: "govern", Timestamp: testNow, Decision: model.OutcomeRan, Summary: "ran fine",
	}))

	rec, body := f.get(t, "/v1/heartbeats")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	hbs := data["heartbeats"].([]any)
	require.Len(t, hbs, 1)
	hb := hbs[0].(map[string]any)
	assert.Equal(t, "govern", hb["charter_id"])
	assert.Equal(t, "ran", hb["decision"])
}

func TestGetHeartbeatHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.heartbeats.Write(ctx, model.Heartbeat{
		CharterID: "govern", Timestamp: testNow.Add(-time.Hour), Decision: model.OutcomeRan, Summary: "first",
	}))
	require.NoError(t, f.heartbeats.Write(ctx, model.NoOp("govern", testNow, model.NoOpVeto, "runs vetoed by gate")))

	rec, body := f.get(t, "/v1/heartbeats/govern/history?limit=10")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	hbs := data["heartbeats"].([]any)
	require.Len(t, hbs, 2)
	assert.Equal(t, "no-op", hbs[0].(map[string]any)["decision"], "newest first")

	rec, _ = f.get(t, "/v1/heartbeats/govern/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDecisions(t *testing.T) {
	f := newFixture(t)
	rec, err := f.decisions.Append(context.Background(), "govern", model.EDODraft{
		Alternatives: []string{"a", "b"},
		Chosen:       "a",
		Rationale:    "r",
	})
	require.NoError(t, err)

	httpRec, body := f.get(t, "/v1/decisions")
	assert.Equal(t, http.StatusOK, httpRec.Code)
	data := body["data"].(map[string]any)
	recs := data["decisions"].([]any)
	require.Len(t, recs, 1)

	httpRec, body = f.get(t, "/v1/decisions/"+rec.ID)
	assert.Equal(t, http.StatusOK, httpRec.Code)
	got := body["data"].(map[string]any)
	assert.Equal(t, rec.ID, got["id"])
	assert.Equal(t, "a", got["chosen"])

	httpRec, body = f.get(t, "/v1/decisions/0123456789abcdef0123456789abcdef")
	assert.Equal(t, http.StatusNotFound, httpRec.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errObj["code"])
}

func TestGetIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.decisions.Append(ctx, "govern", model.EDODraft{
		Alternatives: []string{"a", "b"}, Chosen: "a", Rationale: "r",
	})
	require.NoError(t, err)

	rec, body := f.get(t, "/v1/integrity")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1), data["records"])
	assert.NotEmpty(t, data["merkle_root"])
}

func TestGetIntegrityCorrupted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Plant a dangling index entry.
	idx := model.NewEDOIndex()
	id := "0123456789abcdef0123456789abcdef"
	idx.Entries[id] = model.DecisionPath(id)
	idx.UpdatedAt = testNow
	content, err := json.Marshal(idx)
	require.NoError(t, err)
	_, err = f.store.Apply(ctx, docstore.Write{Path: model.IndexPath, Content: content, ParentRev: 0})
	require.NoError(t, err)

	rec, body := f.get(t, "/v1/integrity")
	assert.Equal(t, http.StatusConflict, rec.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "corrupted", errObj["code"])
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/nonsense", nil)
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
