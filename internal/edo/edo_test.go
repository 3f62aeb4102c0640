package edo_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/edo"
	"github.com/chorus-dao/kodo/internal/model"
	"github.com/chorus-dao/kodo/internal/testutil"
)

func newTestLog(t *testing.T, store docstore.Store, now time.Time) *edo.Log {
	t.Helper()
	return edo.NewLog(store, model.ClockFunc(func() time.Time { return now }), 1, testutil.TestLogger())
}

func draft() model.EDODraft {
	return model.EDODraft{
		Alternatives: []string{"rotate signing keys now", "defer rotation to next window"},
		Chosen:       "rotate signing keys now",
		Rationale:    "expiry within 48h leaves no slack for a second attempt",
	}
}

func TestContentHashDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	alts := []string{"a", "b"}

	h1 := edo.ContentHash("govern", alts, "a", "why", at, "")
	h2 := edo.ContentHash("govern", alts, "a", "why", at, "")
	assert.Equal(t, h1, h2)
	assert.True(t, len(h1) > 3 && h1[:3] == "v2:")

	h3 := edo.ContentHash("govern", alts, "b", "why", at, "")
	assert.NotEqual(t, h1, h3, "different chosen must change the hash")

	h4 := edo.ContentHash("govern", alts, "a", "why", at, "salt")
	assert.NotEqual(t, h1, h4, "salt must change the hash")
}

func TestContentHashFieldBoundaries(t *testing.T) {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	// Length prefixing keeps adjacent fields from bleeding into each other.
	h1 := edo.ContentHash("ab", []string{"c", "d"}, "x", "y", at, "")
	h2 := edo.ContentHash("a", []string{"bc", "d"}, "x", "y", at, "")
	assert.NotEqual(t, h1, h2)
}

func TestMerkleRoot(t *testing.T) {
	assert.Empty(t, edo.MerkleRoot(nil))
	assert.Equal(t, "leaf", edo.MerkleRoot([]string{"leaf"}))

	r1 := edo.MerkleRoot([]string{"a", "b", "c"})
	r2 := edo.MerkleRoot([]string{"a", "b", "c"})
	assert.Equal(t, r1, r2)
	assert.NotEqual(t, r1, edo.MerkleRoot([]string{"a", "b", "d"}))
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	rec, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)
	assert.Len(t, rec.ID, 32, "id is the 128-bit hex prefix of the content hash")
	assert.True(t, rec.Open)
	assert.True(t, edo.VerifyContentHash(rec))

	got, err := log.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Record and index land in the same commit.
	recDoc, err := store.Read(ctx, model.DecisionPath(rec.ID))
	require.NoError(t, err)
	idxDoc, err := store.Read(ctx, model.IndexPath)
	require.NoError(t, err)
	assert.Equal(t, recDoc.CommitID, idxDoc.CommitID)
}

func TestAppendRejectsSingleAlternative(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	log := newTestLog(t, docstore.NewMemoryStore(), now)

	d := draft()
	d.Alternatives = d.Alternatives[:1]
	_, err := log.Append(ctx, "govern", d)
	require.Error(t, err)
}

func TestAppendCollisionResalts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	// Identical draft at the identical clock instant produces the identical
	// content-addressed id; the second append must salt, not overwrite.
	first, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)
	second, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, first.Salt)
	assert.NotEmpty(t, second.Salt)
	assert.True(t, edo.VerifyContentHash(second))

	recs, err := log.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	rec, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)

	updated, err := log.Update(ctx, "govern", rec.ID, model.EDODraft{
		Alternatives: []string{"rotate signing keys now", "defer rotation to next window", "split rotation"},
		Chosen:       "split rotation",
		Rationale:    "follow-up review favored a staged cutover",
		CloseThread:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, updated.ID, "updates keep the original id")
	assert.Equal(t, rec.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.Open)
	assert.True(t, edo.VerifyContentHash(updated))
	assert.NotEqual(t, rec.ContentHash, updated.ContentHash)

	// Closed thread rejects further updates.
	_, err = log.Update(ctx, "govern", rec.ID, draft())
	require.ErrorIs(t, err, edo.ErrThreadClosed)
}

func TestUpdateOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	rec, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)

	_, err = log.Update(ctx, "sustainability", rec.ID, draft())
	require.ErrorIs(t, err, authz.ErrPermissionDenied)

	// The denied update must not have written anything.
	got, err := log.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestUpdateUnknownID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	log := newTestLog(t, docstore.NewMemoryStore(), now)

	_, err := log.Update(ctx, "govern", "0123456789abcdef0123456789abcdef", draft())
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestVerifyCleanLog(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	report, err := log.Verify(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Records)

	_, err = log.Append(ctx, "govern", draft())
	require.NoError(t, err)
	_, err = log.Append(ctx, "sustainability", model.EDODraft{
		Alternatives: []string{"archive stale docs", "keep everything"},
		Chosen:       "archive stale docs",
		Rationale:    "storage burn trending up",
	})
	require.NoError(t, err)

	report, err = log.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.NotEmpty(t, report.MerkleRoot)

	// A second pass over unchanged state yields the same root.
	again, err := log.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.MerkleRoot, again.MerkleRoot)
}

func TestVerifyDetectsOrphanRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	_, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)

	// Plant a record that the index does not know about.
	orphan := model.EDO{
		ID:           "ffffffffffffffffffffffffffffffff",
		CharterID:    "govern",
		Alternatives: []string{"a", "b"},
		Chosen:       "a",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	orphan.ContentHash = edo.ContentHash(orphan.CharterID, orphan.Alternatives, orphan.Chosen, orphan.Rationale, orphan.CreatedAt, "")
	content, err := json.Marshal(orphan)
	require.NoError(t, err)
	_, err = store.Apply(ctx, docstore.Write{Path: model.DecisionPath(orphan.ID), Content: content, ParentRev: 0})
	require.NoError(t, err)

	_, err = log.Verify(ctx)
	require.ErrorIs(t, err, edo.ErrCorrupted)
	assert.True(t, edo.IsCorrupted(err))
}

func TestVerifyDetectsDanglingIndexEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	// Write an index claiming a record that does not exist.
	idx := model.NewEDOIndex()
	id := "0123456789abcdef0123456789abcdef"
	idx.Entries[id] = model.DecisionPath(id)
	idx.UpdatedAt = now
	content, err := json.Marshal(idx)
	require.NoError(t, err)
	_, err = store.Apply(ctx, docstore.Write{Path: model.IndexPath, Content: content, ParentRev: 0})
	require.NoError(t, err)

	_, err = log.Verify(ctx)
	require.ErrorIs(t, err, edo.ErrCorrupted)

	// Reads through the index hit the same wall; nothing auto-repairs.
	_, err = log.Get(ctx, id)
	require.ErrorIs(t, err, edo.ErrCorrupted)
}

func TestVerifyDetectsTamperedRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore()
	log := newTestLog(t, store, now)

	rec, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)

	// Tamper with the stored rationale without recomputing the hash.
	doc, err := store.Read(ctx, model.DecisionPath(rec.ID))
	require.NoError(t, err)
	var tampered model.EDO
	require.NoError(t, json.Unmarshal(doc.Content, &tampered))
	tampered.Rationale = "it seemed fine"
	content, err := json.Marshal(tampered)
	require.NoError(t, err)
	_, err = store.Apply(ctx, docstore.Write{Path: doc.Path, Content: content, ParentRev: doc.Revision})
	require.NoError(t, err)

	_, err = log.Verify(ctx)
	require.ErrorIs(t, err, edo.ErrCorrupted)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	clock := now
	log := edo.NewLog(store, model.ClockFunc(func() time.Time { return clock }), 1, testutil.TestLogger())

	first, err := log.Append(ctx, "govern", draft())
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := log.Append(ctx, "sustainability", model.EDODraft{
		Alternatives: []string{"a", "b"},
		Chosen:       "a",
		Rationale:    "r",
	})
	require.NoError(t, err)

	recs, err := log.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, first.ID, recs[1].ID)
}
