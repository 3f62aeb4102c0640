package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/model"
)

// Heartbeats reads and writes per-charter heartbeat records. Each charter
// owns exactly one current record, overwritten once per cycle; prior cycles
// remain in the store's commit history.
type Heartbeats struct {
	store   docstore.Store
	retries int
	logger  *slog.Logger
}

// NewHeartbeats creates a heartbeat repository. retries is the number of
// fresh-read retries after a write conflict (the protocol default is 1:
// a second conflict surfaces as a cycle failure).
func NewHeartbeats(store docstore.Store, retries int, logger *slog.Logger) *Heartbeats {
	return &Heartbeats{store: store, retries: retries, logger: logger}
}

// Write commits the charter's heartbeat for this cycle, replacing the
// previous record. A racing commit triggers a fresh read and retry; repeated
// conflicts surface as docstore.ErrConflict.
func (h *Heartbeats) Write(ctx context.Context, hb model.Heartbeat) error {
	if err := hb.Validate(); err != nil {
		return err
	}
	content, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("gate: marshal heartbeat: %w", err)
	}

	path := model.HeartbeatPath(hb.CharterID)
	var lastErr error
	for attempt := 0; attempt <= h.retries; attempt++ {
		rev, err := h.currentRevision(ctx, path)
		if err != nil {
			return err
		}
		_, err = h.store.Apply(ctx, docstore.Write{Path: path, Content: content, ParentRev: rev})
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return err
		}
		lastErr = err
		h.logger.Warn("gate: heartbeat write conflict, retrying",
			"charter_id", hb.CharterID, "attempt", attempt+1)
	}
	return lastErr
}

// Get returns the charter's current heartbeat, or docstore.ErrNotFound.
func (h *Heartbeats) Get(ctx context.Context, charterID string) (model.Heartbeat, error) {
	doc, err := h.store.Read(ctx, model.HeartbeatPath(charterID))
	if err != nil {
		return model.Heartbeat{}, err
	}
	return decodeHeartbeat(doc.Content, doc.Path)
}

// Latest returns the current heartbeat of every charter that has one.
func (h *Heartbeats) Latest(ctx context.Context) ([]model.Heartbeat, error) {
	paths, err := h.store.List(ctx, model.HeartbeatPrefix)
	if err != nil {
		return nil, err
	}
	hbs := make([]model.Heartbeat, 0, len(paths))
	for _, p := range paths {
		doc, err := h.store.Read(ctx, p)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue // deleted between list and read
			}
			return nil, err
		}
		hb, err := decodeHeartbeat(doc.Content, p)
		if err != nil {
			return nil, err
		}
		hbs = append(hbs, hb)
	}
	return hbs, nil
}

// History returns up to limit prior heartbeats for the charter, newest first.
// A charter with no heartbeats yet yields an empty slice, not an error.
func (h *Heartbeats) History(ctx context.Context, charterID string, limit int) ([]model.Heartbeat, error) {
	docs, err := h.store.History(ctx, model.HeartbeatPath(charterID), limit)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	hbs := make([]model.Heartbeat, 0, len(docs))
	for _, doc := range docs {
		hb, err := decodeHeartbeat(doc.Content, doc.Path)
		if err != nil {
			return nil, err
		}
		hbs = append(hbs, hb)
	}
	return hbs, nil
}

func (h *Heartbeats) currentRevision(ctx context.Context, path string) (int64, error) {
	doc, err := h.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Revision, nil
}

func decodeHeartbeat(content []byte, path string) (model.Heartbeat, error) {
	var hb model.Heartbeat
	if err := json.Unmarshal(content, &hb); err != nil {
		return model.Heartbeat{}, fmt.Errorf("gate: decode heartbeat %s: %w", path, err)
	}
	return hb, nil
}
