package edo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/chorus-dao/kodo/internal/model"
)

// ErrCorrupted is returned when the decision log violates its consistency
// invariants: an index entry without a record, a record without an index
// entry, or a content hash that no longer matches its record. This is a
// fatal condition requiring manual repair; the log never patches it.
var ErrCorrupted = errors.New("edo: decision log corrupted")

// Report is the result of a successful verification pass.
type Report struct {
	Records    int    `json:"records"`
	MerkleRoot string `json:"merkle_root"`
}

// Verify checks that the index contains exactly the set of ids for which a
// record exists (no orphans, no dangling entries) and that every record's
// content hash matches its fields, then returns a Merkle root over the
// sorted content hashes.
func (l *Log) Verify(ctx context.Context) (Report, error) {
	idx, _, err := l.readIndex(ctx)
	if err != nil {
		return Report{}, err
	}

	paths, err := l.store.List(ctx, model.DecisionPrefix)
	if err != nil {
		return Report{}, err
	}

	indexed := make(map[string]bool, len(idx.Entries))
	for id, path := range idx.Entries {
		indexed[path] = true
		if path != model.DecisionPath(id) {
			return Report{}, fmt.Errorf("edo: index entry %s points at unexpected path %s: %w",
				id, path, ErrCorrupted)
		}
	}

	var hashes []string
	for _, path := range paths {
		if path == model.IndexPath {
			continue
		}
		if !indexed[path] {
			return Report{}, fmt.Errorf("edo: orphan record %s missing from index: %w", path, ErrCorrupted)
		}
		doc, err := l.store.Read(ctx, path)
		if err != nil {
			return Report{}, err
		}
		var rec model.EDO
		if err := json.Unmarshal(doc.Content, &rec); err != nil {
			return Report{}, fmt.Errorf("edo: decode record %s: %w", path, err)
		}
		if model.DecisionPath(rec.ID) != path {
			return Report{}, fmt.Errorf("edo: record at %s claims id %s: %w", path, rec.ID, ErrCorrupted)
		}
		if !VerifyContentHash(rec) {
			return Report{}, fmt.Errorf("edo: content hash mismatch for %s: %w", rec.ID, ErrCorrupted)
		}
		hashes = append(hashes, rec.ContentHash)
	}

	recordCount := len(hashes)
	if recordCount != len(idx.Entries) {
		return Report{}, fmt.Errorf("edo: index lists %d decisions but %d records exist: %w",
			len(idx.Entries), recordCount, ErrCorrupted)
	}

	sort.Strings(hashes)
	return Report{Records: recordCount, MerkleRoot: MerkleRoot(hashes)}, nil
}

// IsCorrupted reports whether err indicates a consistency violation.
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorrupted)
}
