package edo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/model"
)

// ErrThreadClosed is returned when updating a decision whose thread the
// creating charter has already closed.
var ErrThreadClosed = errors.New("edo: decision thread closed")

// idHexLen is the length of the content-addressed record id (hex chars of
// the content hash).
const idHexLen = 32

// maxIDAttempts bounds id-collision resalting. Collisions at 128 bits are
// a symptom of duplicate submissions, not chance; three salted attempts is
// already generous.
const maxIDAttempts = 3

// Log is the append/update-only decision log. Record and index writes share
// one store commit, so the index stays bijective with existing records even
// across crashes — a violation is detectable by Verify and never repaired
// silently.
type Log struct {
	store   docstore.Store
	clock   model.Clock
	retries int
	logger  *slog.Logger
}

// NewLog creates a decision log. retries is the fresh-read retry budget on
// write conflicts (protocol default 1).
func NewLog(store docstore.Store, clock model.Clock, retries int, logger *slog.Logger) *Log {
	return &Log{store: store, clock: clock, retries: retries, logger: logger}
}

// Append records a new decision for the charter. The id is content-addressed;
// a collision with an existing id is detected against the index and retried
// with a salted id, never overwritten. At most one append per charter per
// cycle is enforced by the runner, not here.
func (l *Log) Append(ctx context.Context, charterID string, d model.EDODraft) (model.EDO, error) {
	if charterID == "" {
		return model.EDO{}, fmt.Errorf("edo: charter id is required")
	}

	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		idx, idxRev, err := l.readIndex(ctx)
		if err != nil {
			return model.EDO{}, err
		}

		rec, err := l.newRecord(charterID, d, idx)
		if err != nil {
			return model.EDO{}, err
		}

		content, err := json.Marshal(rec)
		if err != nil {
			return model.EDO{}, fmt.Errorf("edo: marshal record: %w", err)
		}
		idx.Entries[rec.ID] = model.DecisionPath(rec.ID)
		idx.UpdatedAt = rec.CreatedAt
		idxContent, err := json.Marshal(idx)
		if err != nil {
			return model.EDO{}, fmt.Errorf("edo: marshal index: %w", err)
		}

		_, err = l.store.ApplyBatch(ctx, []docstore.Write{
			{Path: model.DecisionPath(rec.ID), Content: content, ParentRev: 0},
			{Path: model.IndexPath, Content: idxContent, ParentRev: idxRev},
		})
		if err == nil {
			l.logger.Info("edo: recorded decision",
				"charter_id", charterID, "id", rec.ID, "alternatives", len(rec.Alternatives))
			return rec, nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return model.EDO{}, err
		}
		lastErr = err
		l.logger.Warn("edo: append conflict, retrying", "charter_id", charterID, "attempt", attempt+1)
	}
	return model.EDO{}, lastErr
}

// Update revises a decision in a still-open thread. Only the charter that
// created the record may update it; any other caller fails with
// authz.ErrPermissionDenied and nothing is written.
func (l *Log) Update(ctx context.Context, charterID, id string, d model.EDODraft) (model.EDO, error) {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		idx, idxRev, err := l.readIndex(ctx)
		if err != nil {
			return model.EDO{}, err
		}
		path, ok := idx.Entries[id]
		if !ok {
			return model.EDO{}, fmt.Errorf("edo: decision %s: %w", id, docstore.ErrNotFound)
		}

		doc, err := l.store.Read(ctx, path)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				// Index entry without a record: atomicity violation.
				return model.EDO{}, fmt.Errorf("edo: index entry %s has no record: %w", id, ErrCorrupted)
			}
			return model.EDO{}, err
		}
		var rec model.EDO
		if err := json.Unmarshal(doc.Content, &rec); err != nil {
			return model.EDO{}, fmt.Errorf("edo: decode record %s: %w", id, err)
		}

		if rec.CharterID != charterID {
			return model.EDO{}, fmt.Errorf("edo: decision %s belongs to charter %q, not %q: %w",
				id, rec.CharterID, charterID, authz.ErrPermissionDenied)
		}
		if !rec.Open {
			return model.EDO{}, fmt.Errorf("edo: decision %s: %w", id, ErrThreadClosed)
		}
		if len(d.Alternatives) < 2 {
			return model.EDO{}, fmt.Errorf("edo: update requires at least 2 alternatives, got %d", len(d.Alternatives))
		}

		rec.Alternatives = append([]string(nil), d.Alternatives...)
		rec.Chosen = d.Chosen
		rec.Rationale = d.Rationale
		rec.UpdatedAt = l.clock.Now().UTC()
		rec.Open = !d.CloseThread
		rec.ContentHash = ContentHash(rec.CharterID, rec.Alternatives, rec.Chosen, rec.Rationale, rec.CreatedAt, rec.Salt)
		if err := rec.Validate(); err != nil {
			return model.EDO{}, err
		}

		content, err := json.Marshal(rec)
		if err != nil {
			return model.EDO{}, fmt.Errorf("edo: marshal record: %w", err)
		}
		idx.UpdatedAt = rec.UpdatedAt
		idxContent, err := json.Marshal(idx)
		if err != nil {
			return model.EDO{}, fmt.Errorf("edo: marshal index: %w", err)
		}

		_, err = l.store.ApplyBatch(ctx, []docstore.Write{
			{Path: path, Content: content, ParentRev: doc.Revision},
			{Path: model.IndexPath, Content: idxContent, ParentRev: idxRev},
		})
		if err == nil {
			l.logger.Info("edo: updated decision", "charter_id", charterID, "id", id, "open", rec.Open)
			return rec, nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return model.EDO{}, err
		}
		lastErr = err
		l.logger.Warn("edo: update conflict, retrying", "charter_id", charterID, "attempt", attempt+1)
	}
	return model.EDO{}, lastErr
}

// Get returns a decision by id.
func (l *Log) Get(ctx context.Context, id string) (model.EDO, error) {
	idx, _, err := l.readIndex(ctx)
	if err != nil {
		return model.EDO{}, err
	}
	path, ok := idx.Entries[id]
	if !ok {
		return model.EDO{}, fmt.Errorf("edo: decision %s: %w", id, docstore.ErrNotFound)
	}
	doc, err := l.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return model.EDO{}, fmt.Errorf("edo: index entry %s has no record: %w", id, ErrCorrupted)
		}
		return model.EDO{}, err
	}
	var rec model.EDO
	if err := json.Unmarshal(doc.Content, &rec); err != nil {
		return model.EDO{}, fmt.Errorf("edo: decode record %s: %w", id, err)
	}
	return rec, nil
}

// List returns all decisions, newest first.
func (l *Log) List(ctx context.Context) ([]model.EDO, error) {
	idx, _, err := l.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	recs := make([]model.EDO, 0, len(idx.Entries))
	for id := range idx.Entries {
		rec, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

func (l *Log) newRecord(charterID string, d model.EDODraft, idx model.EDOIndex) (model.EDO, error) {
	createdAt := l.clock.Now().UTC()
	salt := ""
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		hash := ContentHash(charterID, d.Alternatives, d.Chosen, d.Rationale, createdAt, salt)
		id := strings.TrimPrefix(hash, hashPrefix)[:idHexLen]
		if _, exists := idx.Entries[id]; exists {
			l.logger.Warn("edo: id collision, resalting", "charter_id", charterID, "id", id)
			salt = uuid.NewString()
			continue
		}
		rec := model.EDO{
			ID:           id,
			CharterID:    charterID,
			Alternatives: append([]string(nil), d.Alternatives...),
			Chosen:       d.Chosen,
			Rationale:    d.Rationale,
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
			Open:         !d.CloseThread,
			Salt:         salt,
			ContentHash:  hash,
		}
		if err := rec.Validate(); err != nil {
			return model.EDO{}, err
		}
		return rec, nil
	}
	return model.EDO{}, fmt.Errorf("edo: could not assign a unique id after %d attempts: %w",
		maxIDAttempts, docstore.ErrConflict)
}

func (l *Log) readIndex(ctx context.Context) (model.EDOIndex, int64, error) {
	doc, err := l.store.Read(ctx, model.IndexPath)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return model.NewEDOIndex(), 0, nil
		}
		return model.EDOIndex{}, 0, err
	}
	var idx model.EDOIndex
	if err := json.Unmarshal(doc.Content, &idx); err != nil {
		return model.EDOIndex{}, 0, fmt.Errorf("edo: decode index: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = map[string]string{}
	}
	return idx, doc.Revision, nil
}
