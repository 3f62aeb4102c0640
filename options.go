package kodo

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// charterSpec is one charter registered via WithCharter.
type charterSpec struct {
	id    string
	logic CharterLogic
}

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	notifyURL   string
	sqlitePath  string
	inMemory    bool
	logger      *slog.Logger
	version     string
	charters    []charterSpec
	gateOwner   string
	gatePolicy  GatePolicy
	eventHooks  []EventHook
	clock       Clock
}

// WithPort overrides the TCP port from config (KODO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries — LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithSQLitePath overrides the SQLite database path from config
// (KODO_SQLITE_PATH env var). Ignored when a database URL is configured.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithInMemoryStore runs the document store entirely in memory. Nothing
// survives a restart; intended for tests and local experiments.
func WithInMemoryStore() Option {
	return func(o *resolvedOptions) { o.inMemory = true }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithCharter registers a charter and its decision logic. May be called
// multiple times; each id must be unique. When no charters are registered,
// the roster comes from config (KODO_CHARTERS) with no-op logic, which is
// only useful for observing the protocol machinery.
func WithCharter(id string, logic CharterLogic) Option {
	return func(o *resolvedOptions) {
		o.charters = append(o.charters, charterSpec{id: id, logic: logic})
	}
}

// WithGateOwner overrides which charter holds the gate-owner role
// (KODO_GATE_OWNER env var). The id must belong to a registered charter.
func WithGateOwner(id string) Option {
	return func(o *resolvedOptions) { o.gateOwner = id }
}

// WithGatePolicy sets the policy the gate owner consults when writing the
// gate each cycle. Only the last call wins. When not set, a keep-or-default
// policy carries the prior gate forward.
func WithGatePolicy(p GatePolicy) Option {
	return func(o *resolvedOptions) { o.gatePolicy = p }
}

// WithEventHook registers an event hook to receive protocol lifecycle
// notifications. Multiple hooks may be registered; all registered hooks
// receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithClock replaces the wall clock, letting tests drive staleness and
// cadence deterministically.
func WithClock(c Clock) Option {
	return func(o *resolvedOptions) { o.clock = c }
}
