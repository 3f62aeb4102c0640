package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. It applies
// the same optimistic-concurrency rules as the durable backends.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]Document
	history map[string][]Document
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    map[string]Document{},
		history: map[string][]Document{},
	}
}

func (s *MemoryStore) Read(_ context.Context, path string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) Apply(ctx context.Context, w Write) (Commit, error) {
	return s.ApplyBatch(ctx, []Write{w})
}

func (s *MemoryStore) ApplyBatch(_ context.Context, ws []Write) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every parent revision before touching anything, so a batch is
	// all-or-nothing.
	for _, w := range ws {
		cur, ok := s.docs[w.Path]
		if !ok && w.ParentRev != 0 {
			return Commit{}, ErrConflict
		}
		if ok && cur.Revision != w.ParentRev {
			return Commit{}, ErrConflict
		}
	}

	commit := Commit{
		ID:          uuid.New(),
		Revisions:   make(map[string]int64, len(ws)),
		CommittedAt: time.Now().UTC(),
	}
	for _, w := range ws {
		content := make([]byte, len(w.Content))
		copy(content, w.Content)
		doc := Document{
			Path:      w.Path,
			Content:   content,
			Revision:  w.ParentRev + 1,
			CommitID:  commit.ID,
			UpdatedAt: commit.CommittedAt,
		}
		s.docs[w.Path] = doc
		s.history[w.Path] = append(s.history[w.Path], doc)
		commit.Revisions[w.Path] = doc.Revision
	}
	return commit, nil
}

func (s *MemoryStore) History(_ context.Context, path string, limit int) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.history[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Document, 0, len(versions))
	for i := len(versions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, versions[i])
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for p := range s.docs {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
