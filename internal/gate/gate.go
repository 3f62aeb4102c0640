package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/model"
)

// Service mediates all budget gate access. Reads are open to every charter
// and monotonic; writes are restricted to the gate-owner role, checked here
// at the API boundary rather than by scheduling convention.
type Service struct {
	store      docstore.Store
	reg        *authz.Registry
	heartbeats *Heartbeats
	clock      model.Clock
	staleAfter time.Duration
	burnWindow time.Duration
	retries    int
	logger     *slog.Logger

	mu      sync.Mutex
	lastRev int64
}

// ServiceConfig holds gate service construction parameters.
type ServiceConfig struct {
	Store      docstore.Store
	Registry   *authz.Registry
	Heartbeats *Heartbeats
	Clock      model.Clock
	StaleAfter time.Duration
	BurnWindow time.Duration
	Retries    int
	Logger     *slog.Logger
}

// NewService creates the gate service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:      cfg.Store,
		reg:        cfg.Registry,
		heartbeats: cfg.Heartbeats,
		clock:      cfg.Clock,
		staleAfter: cfg.StaleAfter,
		burnWindow: cfg.BurnWindow,
		retries:    cfg.Retries,
		logger:     cfg.Logger,
	}
}

// StaleAfter returns the configured freshness threshold.
func (s *Service) StaleAfter() time.Duration { return s.staleAfter }

// LastRevision returns the highest gate revision this service has read or
// written. A store revision above it means some other process committed the
// gate.
func (s *Service) LastRevision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRev
}

// Read returns the current gate and its revision. A missing gate is
// (nil, 0, nil) — absence is a classification input, not an error. The read
// is monotonic: a revision older than one previously returned is rejected.
func (s *Service) Read(ctx context.Context) (*model.BudgetGate, int64, error) {
	doc, err := s.store.Read(ctx, model.GatePath)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	s.mu.Lock()
	if doc.Revision < s.lastRev {
		last := s.lastRev
		s.mu.Unlock()
		return nil, 0, fmt.Errorf("gate: non-monotonic read: revision %d after %d", doc.Revision, last)
	}
	s.lastRev = doc.Revision
	s.mu.Unlock()

	var g model.BudgetGate
	if err := json.Unmarshal(doc.Content, &g); err != nil {
		return nil, 0, fmt.Errorf("gate: decode gate: %w", err)
	}
	return &g, doc.Revision, nil
}

// Classify runs the staleness/veto classifier against the service clock and
// configured threshold.
func (s *Service) Classify(g *model.BudgetGate) Classification {
	return Classify(g, s.clock.Now(), s.staleAfter)
}

// Write commits a new gate record. Only the charter holding the gate-owner
// role may call this; any other caller fails with authz.ErrPermissionDenied
// before anything is read or written. The committed gate carries a fresh
// updated_at and a burn-rate trend recomputed from all charters' most recent
// heartbeats.
func (s *Service) Write(ctx context.Context, callerID string, u model.GateUpdate) (model.BudgetGate, error) {
	if !s.reg.Has(callerID, model.RoleGateOwner) {
		return model.BudgetGate{}, fmt.Errorf("gate: charter %q may not write the gate: %w",
			callerID, authz.ErrPermissionDenied)
	}

	hbs, err := s.heartbeats.Latest(ctx)
	if err != nil {
		return model.BudgetGate{}, fmt.Errorf("gate: aggregate heartbeats: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		now := s.clock.Now().UTC()
		trend, status := BurnRate(hbs, now, s.burnWindow)
		g := model.BudgetGate{
			AllowRuns:           u.AllowRuns,
			MaxTokens:           u.MaxTokens,
			MaxToolCalls:        u.MaxToolCalls,
			MaxBrainSpawnsPerHr: u.MaxBrainSpawnsPerHr,
			BudgetStatus:        status,
			BurnRateTrend:       trend,
			UpdatedAt:           now,
		}
		if err := g.Validate(); err != nil {
			return model.BudgetGate{}, err
		}
		content, err := json.Marshal(g)
		if err != nil {
			return model.BudgetGate{}, fmt.Errorf("gate: marshal gate: %w", err)
		}

		rev, err := s.currentRevision(ctx)
		if err != nil {
			return model.BudgetGate{}, err
		}
		commit, err := s.store.Apply(ctx, docstore.Write{
			Path: model.GatePath, Content: content, ParentRev: rev,
		})
		if err == nil {
			s.mu.Lock()
			if r := commit.Revisions[model.GatePath]; r > s.lastRev {
				s.lastRev = r
			}
			s.mu.Unlock()
			s.logger.Info("gate: written",
				"owner", callerID,
				"allow_runs", g.AllowRuns,
				"budget_status", string(g.BudgetStatus))
			return g, nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return model.BudgetGate{}, err
		}
		lastErr = err
		s.logger.Warn("gate: write conflict, retrying", "owner", callerID, "attempt", attempt+1)
	}
	return model.BudgetGate{}, lastErr
}

func (s *Service) currentRevision(ctx context.Context) (int64, error) {
	doc, err := s.store.Read(ctx, model.GatePath)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Revision, nil
}
