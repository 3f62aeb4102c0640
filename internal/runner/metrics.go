package runner

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chorus-dao/kodo/internal/telemetry"
)

// metrics holds the runner's OTEL counters. Counters that fail to initialize
// are left nil and increments become no-ops.
type metrics struct {
	cycles    metric.Int64Counter
	noops     metric.Int64Counter
	failures  metric.Int64Counter
	decisions metric.Int64Counter
}

func newMetrics(logger *slog.Logger) *metrics {
	meter := telemetry.Meter("kodo/runner")
	m := &metrics{}
	var err error
	if m.cycles, err = meter.Int64Counter("kodo.runner.cycles",
		metric.WithDescription("Completed charter cycles")); err != nil {
		logger.Warn("runner: create cycles counter", "error", err)
	}
	if m.noops, err = meter.Int64Counter("kodo.runner.noops",
		metric.WithDescription("Cycles that ended in a protocol no-op")); err != nil {
		logger.Warn("runner: create noops counter", "error", err)
	}
	if m.failures, err = meter.Int64Counter("kodo.runner.failures",
		metric.WithDescription("Cycles that recorded a reportable failure")); err != nil {
		logger.Warn("runner: create failures counter", "error", err)
	}
	if m.decisions, err = meter.Int64Counter("kodo.runner.decisions",
		metric.WithDescription("EDO records written")); err != nil {
		logger.Warn("runner: create decisions counter", "error", err)
	}
	return m
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, charterID string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("charter_id", charterID)))
}
