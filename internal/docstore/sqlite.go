package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	revision   INTEGER NOT NULL,
	commit_id  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS commits (
	commit_id    TEXT NOT NULL,
	path         TEXT NOT NULL,
	revision     INTEGER NOT NULL,
	content      BLOB NOT NULL,
	committed_at TEXT NOT NULL,
	PRIMARY KEY (path, revision)
);
`

// SQLiteStore is an embedded single-file Store backed by modernc.org/sqlite.
// SQLite serializes writers, so optimistic revision checks inside a
// transaction are race-free.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if necessary) the store at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("docstore: open sqlite: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: create schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Read(ctx context.Context, path string) (Document, error) {
	var (
		doc       Document
		commitID  string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT path, content, revision, commit_id, updated_at FROM documents WHERE path = ?`, path,
	).Scan(&doc.Path, &doc.Content, &doc.Revision, &commitID, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("docstore: read %s: %w", path, err)
	}
	return s.hydrate(doc, commitID, updatedAt, path)
}

func (s *SQLiteStore) Apply(ctx context.Context, w Write) (Commit, error) {
	return s.ApplyBatch(ctx, []Write{w})
}

func (s *SQLiteStore) ApplyBatch(ctx context.Context, ws []Write) (Commit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Commit{}, fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	commit := Commit{
		ID:          uuid.New(),
		Revisions:   make(map[string]int64, len(ws)),
		CommittedAt: time.Now().UTC(),
	}
	ts := commit.CommittedAt.Format(time.RFC3339Nano)

	for _, w := range ws {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT revision FROM documents WHERE path = ?`, w.Path,
		).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = 0
		case err != nil:
			return Commit{}, fmt.Errorf("docstore: check revision %s: %w", w.Path, err)
		}
		if current != w.ParentRev {
			return Commit{}, fmt.Errorf("docstore: %s at revision %d, write expected %d: %w",
				w.Path, current, w.ParentRev, ErrConflict)
		}

		rev := current + 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, content, revision, commit_id, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET
			   content = excluded.content, revision = excluded.revision,
			   commit_id = excluded.commit_id, updated_at = excluded.updated_at`,
			w.Path, w.Content, rev, commit.ID.String(), ts,
		); err != nil {
			return Commit{}, fmt.Errorf("docstore: write %s: %w", w.Path, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO commits (commit_id, path, revision, content, committed_at)
			 VALUES (?, ?, ?, ?, ?)`,
			commit.ID.String(), w.Path, rev, w.Content, ts,
		); err != nil {
			return Commit{}, fmt.Errorf("docstore: record commit %s: %w", w.Path, err)
		}
		commit.Revisions[w.Path] = rev
	}

	if err := tx.Commit(); err != nil {
		return Commit{}, fmt.Errorf("docstore: commit: %w", err)
	}
	return commit, nil
}

func (s *SQLiteStore) History(ctx context.Context, path string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content, revision, commit_id, committed_at
		 FROM commits WHERE path = ? ORDER BY revision DESC LIMIT ?`, path, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: history %s: %w", path, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc       Document
			commitID  string
			updatedAt string
		)
		if err := rows.Scan(&doc.Path, &doc.Content, &doc.Revision, &commitID, &updatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan history: %w", err)
		}
		doc, err = s.hydrate(doc, commitID, updatedAt, path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: history %s: %w", path, err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE path LIKE ? || '%' ORDER BY path`, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("docstore: scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *SQLiteStore) hydrate(doc Document, commitID, updatedAt, path string) (Document, error) {
	id, err := uuid.Parse(commitID)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: parse commit id for %s: %w", path, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: parse timestamp for %s: %w", path, err)
	}
	doc.CommitID = id
	doc.UpdatedAt = ts
	return doc, nil
}
