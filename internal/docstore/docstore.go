// Package docstore provides the version-controlled document store backing the
// governance protocol.
//
// Every state mutation is a commit: writes are whole-document replaces with
// optimistic concurrency (the caller passes the revision it read; a mismatch
// is ErrConflict and the caller must re-read and retry). History is retained
// per document. Any backend qualifies as long as each write is individually
// atomic and conflicts are detectable; this package ships SQLite (embedded
// file store), Postgres (pgx), and in-memory implementations.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("docstore: not found")

// ErrConflict is returned when a write races another commit on the same
// document. The caller must re-read and retry; the store never merges.
var ErrConflict = errors.New("docstore: write conflict")

// Document is a committed version of a stored document.
type Document struct {
	Path      string
	Content   []byte
	Revision  int64
	CommitID  uuid.UUID
	UpdatedAt time.Time
}

// Write describes one document mutation. ParentRev must equal the document's
// current revision; 0 means the document must not exist yet.
type Write struct {
	Path      string
	Content   []byte
	ParentRev int64
}

// Commit is the durable result of a write. A batch write produces a single
// commit covering every path.
type Commit struct {
	ID          uuid.UUID
	Revisions   map[string]int64
	CommittedAt time.Time
}

// Store is the persistence layer contract.
type Store interface {
	// Read returns the latest committed version of the document at path,
	// or ErrNotFound.
	Read(ctx context.Context, path string) (Document, error)

	// Apply commits a single write, or fails with ErrConflict.
	Apply(ctx context.Context, w Write) (Commit, error)

	// ApplyBatch commits all writes atomically in one commit. Either every
	// write lands or none does; any revision mismatch fails the whole
	// batch with ErrConflict.
	ApplyBatch(ctx context.Context, ws []Write) (Commit, error)

	// History returns up to limit past versions of the document at path,
	// newest first. A document with no commits yields ErrNotFound.
	History(ctx context.Context, path string, limit int) ([]Document, error)

	// List returns the paths of all live documents under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	Close(ctx context.Context) error
}
