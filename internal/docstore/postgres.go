package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelCommits is the Postgres LISTEN/NOTIFY channel announcing committed
// document paths, letting runners observe a fresh gate without polling.
const ChannelCommits = "kodo_commits"

// PostgresStore is a Store backed by Postgres via pgxpool, with an optional
// dedicated connection for LISTEN/NOTIFY (direct to Postgres — notify does
// not survive a transaction pooler).
type PostgresStore struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	logger     *slog.Logger
}

// NewPostgresStore creates a PostgresStore with a connection pool.
// poolDSN may point to PgBouncer; notifyDSN (optional) must point directly
// to Postgres for LISTEN/NOTIFY support.
func NewPostgresStore(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, poolDSN)
	if err != nil {
		return nil, fmt.Errorf("docstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("docstore: connect notify: %w", err)
		}
	}

	return &PostgresStore{pool: pool, notifyConn: notifyConn, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by migrations and tests.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Read(ctx context.Context, path string) (Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx,
		`SELECT path, content, revision, commit_id, updated_at FROM documents WHERE path = $1`, path,
	).Scan(&doc.Path, &doc.Content, &doc.Revision, &doc.CommitID, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("docstore: read %s: %w", path, err)
	}
	return doc, nil
}

func (s *PostgresStore) Apply(ctx context.Context, w Write) (Commit, error) {
	return s.ApplyBatch(ctx, []Write{w})
}

func (s *PostgresStore) ApplyBatch(ctx context.Context, ws []Write) (Commit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Commit{}, fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	commit := Commit{
		ID:          uuid.New(),
		Revisions:   make(map[string]int64, len(ws)),
		CommittedAt: time.Now().UTC(),
	}

	for _, w := range ws {
		// Lock the row so two racing commits serialize here instead of
		// both passing the revision check.
		var current int64
		err := tx.QueryRow(ctx,
			`SELECT revision FROM documents WHERE path = $1 FOR UPDATE`, w.Path,
		).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			current = 0
		case err != nil:
			return Commit{}, fmt.Errorf("docstore: check revision %s: %w", w.Path, err)
		}
		if current != w.ParentRev {
			return Commit{}, fmt.Errorf("docstore: %s at revision %d, write expected %d: %w",
				w.Path, current, w.ParentRev, ErrConflict)
		}

		rev := current + 1
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (path, content, revision, commit_id, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (path) DO UPDATE SET
			   content = EXCLUDED.content, revision = EXCLUDED.revision,
			   commit_id = EXCLUDED.commit_id, updated_at = EXCLUDED.updated_at`,
			w.Path, w.Content, rev, commit.ID, commit.CommittedAt,
		); err != nil {
			return Commit{}, fmt.Errorf("docstore: write %s: %w", w.Path, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO commits (commit_id, path, revision, content, committed_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			commit.ID, w.Path, rev, w.Content, commit.CommittedAt,
		); err != nil {
			return Commit{}, fmt.Errorf("docstore: record commit %s: %w", w.Path, err)
		}
		commit.Revisions[w.Path] = rev
	}

	if err := tx.Commit(ctx); err != nil {
		return Commit{}, fmt.Errorf("docstore: commit: %w", err)
	}

	// Best-effort announcement after the durable commit.
	for _, w := range ws {
		if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelCommits, w.Path); err != nil {
			s.logger.Warn("docstore: notify failed", "path", w.Path, "error", err)
		}
	}
	return commit, nil
}

func (s *PostgresStore) History(ctx context.Context, path string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT path, content, revision, commit_id, committed_at
		 FROM commits WHERE path = $1 ORDER BY revision DESC LIMIT $2`, path, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: history %s: %w", path, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Path, &doc.Content, &doc.Revision, &doc.CommitID, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan history: %w", err)
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

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path FROM documents WHERE path LIKE $1 || '%' ORDER BY path`, prefix,
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

// Listen starts listening for commit announcements on the dedicated notify
// connection. Returns an error if no notify connection is configured.
func (s *PostgresStore) Listen(ctx context.Context) error {
	if s.notifyConn == nil {
		return fmt.Errorf("docstore: notify connection not configured")
	}
	if _, err := s.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{ChannelCommits}.Sanitize()); err != nil {
		return fmt.Errorf("docstore: listen %s: %w", ChannelCommits, err)
	}
	return nil
}

// WaitForCommit blocks until a commit announcement arrives and returns the
// committed document path.
func (s *PostgresStore) WaitForCommit(ctx context.Context) (string, error) {
	if s.notifyConn == nil {
		return "", fmt.Errorf("docstore: notify connection not configured")
	}
	n, err := s.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("docstore: wait for notification: %w", err)
	}
	return n.Payload, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	if s.notifyConn != nil {
		if err := s.notifyConn.Close(ctx); err != nil {
			return fmt.Errorf("docstore: close notify connection: %w", err)
		}
	}
	return nil
}
