// Package kodo is the public API for embedding the kodo governance
// heartbeat server.
//
// Consumers import this package to run charter processes under the budget
// gate protocol without forking the daemon:
//
//	app, err := kodo.New(
//	    kodo.WithVersion(version),
//	    kodo.WithLogger(logger),
//	    kodo.WithCharter("govern", governLogic),
//	    kodo.WithCharter("sustainability", sustainLogic),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kodo (root) imports
// internal/*, but internal/* never imports kodo (root). Public types
// (RunLimits, RunReport, HeartbeatView, etc.) are standalone structs with no
// internal imports; conversion helpers (toPublicHeartbeat, toPublicGate) live
// here because they need both sides.
package kodo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/config"
	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/edo"
	"github.com/chorus-dao/kodo/internal/gate"
	"github.com/chorus-dao/kodo/internal/model"
	"github.com/chorus-dao/kodo/internal/runner"
	"github.com/chorus-dao/kodo/internal/scheduler"
	"github.com/chorus-dao/kodo/internal/server"
	"github.com/chorus-dao/kodo/internal/telemetry"
	"github.com/chorus-dao/kodo/migrations"
)

// App is the kodo server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          *config.Config
	store        docstore.Store
	gates        *gate.Service
	heartbeats   *gate.Heartbeats
	decisions    *edo.Log
	sched        *scheduler.Scheduler
	srv          *server.Server
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the kodo server. It opens the document store, runs
// migrations where the backend needs them, wires all subsystems, and returns
// a ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.gateOwner != "" {
		cfg.GateOwner = o.gateOwner
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	charters := o.charters
	if len(charters) == 0 {
		for _, id := range cfg.Charters {
			charters = append(charters, charterSpec{id: id, logic: idleLogic{}})
		}
	} else {
		cfg.Charters = nil
		for _, c := range charters {
			cfg.Charters = append(cfg.Charters, c.id)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("charter roster: %w", err)
	}

	pubClock := o.clock
	if pubClock == nil {
		pubClock = ClockFunc(time.Now)
	}
	clock := model.ClockFunc(pubClock.Now)

	logger.Info("kodo starting", "version", version, "port", cfg.Port,
		"charters", len(charters), "gate_owner", cfg.GateOwner)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the document store.
	store, err := openStore(cfg, o.inMemory, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Role registry: one gate owner, everyone a charter.
	reg := authz.NewRegistry()
	for _, c := range charters {
		if err := reg.Grant(c.id, model.RoleCharter); err != nil {
			store.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("authz: %w", err)
		}
		if c.id == cfg.GateOwner {
			if err := reg.Grant(c.id, model.RoleGateOwner); err != nil {
				store.Close(context.Background())
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("authz: %w", err)
			}
		}
	}

	heartbeats := gate.NewHeartbeats(store, cfg.WriteRetries, logger)
	gates := gate.NewService(gate.ServiceConfig{
		Store:      store,
		Registry:   reg,
		Heartbeats: heartbeats,
		Clock:      clock,
		StaleAfter: cfg.GateStaleAfter,
		BurnWindow: cfg.BurnRateWindow,
		Retries:    cfg.WriteRetries,
		Logger:     logger,
	})
	decisions := edo.NewLog(store, clock, cfg.WriteRetries, logger)

	var policy runner.GatePolicy
	if o.gatePolicy != nil {
		policy = gatePolicyAdapter{policy: o.gatePolicy}
	}
	hooks := make([]runner.Hook, 0, len(o.eventHooks))
	for _, h := range o.eventHooks {
		hooks = append(hooks, eventHookAdapter{hook: h})
	}

	runners := make([]*runner.Runner, 0, len(charters))
	for _, c := range charters {
		runners = append(runners, runner.New(runner.Params{
			CharterID:  c.id,
			Logic:      charterLogicAdapter{logic: c.logic},
			GatePolicy: policy,
			Gates:      gates,
			Heartbeats: heartbeats,
			Decisions:  decisions,
			Registry:   reg,
			Clock:      clock,
			Config: runner.Config{
				CycleTimeout: cfg.CycleTimeout,
				HistoryLimit: cfg.HeartbeatHistory,
			},
			Hooks:  hooks,
			Logger: logger,
		}))
	}

	sched := scheduler.New(cfg.TickInterval, runners, logger)

	srv := server.New(server.ServerConfig{
		Gate:         gates,
		Heartbeats:   heartbeats,
		Decisions:    decisions,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		gates:        gates,
		heartbeats:   heartbeats,
		decisions:    decisions,
		sched:        sched,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// openStore selects the document store backend: Postgres when a database URL
// is configured, otherwise SQLite; in-memory only on explicit request.
func openStore(cfg *config.Config, inMemory bool, logger *slog.Logger) (docstore.Store, error) {
	if inMemory {
		logger.Info("docstore: in-memory")
		return docstore.NewMemoryStore(), nil
	}
	if cfg.DatabaseURL != "" {
		pg, err := docstore.NewPostgresStore(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
		if err != nil {
			return nil, fmt.Errorf("docstore: %w", err)
		}
		if err := pg.RunMigrations(context.Background(), migrations.FS); err != nil {
			pg.Close(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("docstore: postgres")
		return pg, nil
	}
	st, err := docstore.NewSQLiteStore(context.Background(), cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	logger.Info("docstore: sqlite", "path", cfg.SQLitePath)
	return st, nil
}

// Run starts the scheduler and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	go func() {
		if err := a.sched.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("scheduler stopped", "error", err)
		}
	}()

	if pg, ok := a.store.(*docstore.PostgresStore); ok {
		go a.watchGateCommits(schedCtx, pg)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		schedCancel()
		_ = a.Shutdown(context.Background())
		return err
	}

	schedCancel()
	return a.Shutdown(context.Background())
}

// watchGateCommits consumes the store's commit announcements and wakes the
// scheduler's non-owner runners when another process commits the gate, such
// as an operator flipping allow_runs directly. Commits made by this process
// are already reflected in the gate service's revision and are skipped, so
// the owner's own writes never re-trigger a pass.
func (a *App) watchGateCommits(ctx context.Context, pg *docstore.PostgresStore) {
	if err := pg.Listen(ctx); err != nil {
		a.logger.Warn("gate watch disabled", "error", err)
		return
	}
	for {
		path, err := pg.WaitForCommit(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("gate watch stopped", "error", err)
			}
			return
		}
		if path != model.GatePath {
			continue
		}
		doc, err := a.store.Read(ctx, model.GatePath)
		if err != nil {
			continue
		}
		if doc.Revision <= a.gates.LastRevision() {
			continue
		}
		a.logger.Info("gate committed externally, waking charters", "revision", doc.Revision)
		a.sched.Wake()
	}
}

// Shutdown drains the HTTP server, then closes the store and the OTEL
// providers. Heartbeat and decision writes are transactional in the store,
// so there is no buffered state to flush.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kodo shutting down")

	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.otelShutdown(context.Background())
	if err := a.store.Close(context.Background()); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("kodo stopped")
	return nil
}

// Tick runs one scheduling round synchronously. Intended for tests and
// one-shot invocations; Run drives this on the configured cadence.
func (a *App) Tick(ctx context.Context) {
	a.sched.Tick(ctx)
}

// idleLogic is the placeholder charter logic used when no logic is
// registered: every cycle reports a no-op with no work done.
type idleLogic struct{}

func (idleLogic) Decide(context.Context, RunLimits, []HeartbeatView) (RunReport, error) {
	return RunReport{Decision: OutcomeNoOp, Summary: "no charter logic registered"}, nil
}

// charterLogicAdapter bridges a public CharterLogic into the runner's
// internal seam, converting at the boundary in both directions.
type charterLogicAdapter struct{ logic CharterLogic }

func (a charterLogicAdapter) Decide(ctx context.Context, limits model.RunLimits, history []model.Heartbeat) (model.RunReport, error) {
	report, err := a.logic.Decide(ctx, toPublicLimits(limits), toPublicHistory(history))
	if err != nil {
		return model.RunReport{}, err
	}
	return toInternalReport(report), nil
}

// gatePolicyAdapter bridges a public GatePolicy into the runner's internal seam.
type gatePolicyAdapter struct{ policy GatePolicy }

func (a gatePolicyAdapter) PlanGate(ctx context.Context, prior *model.BudgetGate, history []model.Heartbeat) (model.GateUpdate, error) {
	var view *GateView
	if prior != nil {
		v := toPublicGate(*prior)
		view = &v
	}
	u, err := a.policy.PlanGate(ctx, view, toPublicHistory(history))
	if err != nil {
		return model.GateUpdate{}, err
	}
	return model.GateUpdate{
		AllowRuns:           u.AllowRuns,
		MaxTokens:           u.MaxTokens,
		MaxToolCalls:        u.MaxToolCalls,
		MaxBrainSpawnsPerHr: u.MaxBrainSpawnsPerHr,
	}, nil
}

// eventHookAdapter bridges a public EventHook into the runner's internal seam.
type eventHookAdapter struct{ hook EventHook }

func (a eventHookAdapter) OnHeartbeat(ctx context.Context, hb model.Heartbeat) error {
	return a.hook.OnHeartbeat(ctx, toPublicHeartbeat(hb))
}

func (a eventHookAdapter) OnGateWrite(ctx context.Context, g model.BudgetGate) error {
	return a.hook.OnGateWrite(ctx, toPublicGate(g))
}

func (a eventHookAdapter) OnDecisionRecorded(ctx context.Context, charterID, decisionID string) error {
	return a.hook.OnDecisionRecorded(ctx, charterID, decisionID)
}

// toPublicHeartbeat converts an internal model.Heartbeat to the public
// HeartbeatView passed to charter logic and event hooks.
func toPublicHeartbeat(hb model.Heartbeat) HeartbeatView {
	var reason *NoOpReason
	if hb.NoOpReason != nil {
		r := NoOpReason(*hb.NoOpReason)
		reason = &r
	}
	return HeartbeatView{
		CharterID:  hb.CharterID,
		Timestamp:  hb.Timestamp,
		Decision:   Outcome(hb.Decision),
		NoOpReason: reason,
		Summary:    hb.Summary,
		Failure:    hb.Failure,
	}
}

func toPublicHistory(history []model.Heartbeat) []HeartbeatView {
	views := make([]HeartbeatView, len(history))
	for i, hb := range history {
		views[i] = toPublicHeartbeat(hb)
	}
	return views
}

// toPublicGate converts an internal model.BudgetGate to the public GateView.
func toPublicGate(g model.BudgetGate) GateView {
	return GateView{
		AllowRuns:           g.AllowRuns,
		MaxTokens:           g.MaxTokens,
		MaxToolCalls:        g.MaxToolCalls,
		MaxBrainSpawnsPerHr: g.MaxBrainSpawnsPerHr,
		BudgetStatus:        BudgetStatus(g.BudgetStatus),
		BurnRateTrend:       g.BurnRateTrend,
		UpdatedAt:           g.UpdatedAt,
	}
}

func toPublicLimits(l model.RunLimits) RunLimits {
	return RunLimits{
		MaxTokens:           l.MaxTokens,
		MaxToolCalls:        l.MaxToolCalls,
		MaxBrainSpawnsPerHr: l.MaxBrainSpawnsPerHr,
	}
}

// toInternalReport converts a public RunReport into the internal form the
// runner records.
func toInternalReport(r RunReport) model.RunReport {
	report := model.RunReport{
		Decision: model.Outcome(r.Decision),
		Summary:  r.Summary,
		Usage: model.Usage{
			Tokens:      r.Usage.Tokens,
			ToolCalls:   r.Usage.ToolCalls,
			BrainSpawns: r.Usage.BrainSpawns,
		},
	}
	if r.EDO != nil {
		report.EDO = &model.EDODraft{
			Alternatives: append([]string(nil), r.EDO.Alternatives...),
			Chosen:       r.EDO.Chosen,
			Rationale:    r.EDO.Rationale,
			CloseThread:  r.EDO.CloseThread,
		}
	}
	return report
}
