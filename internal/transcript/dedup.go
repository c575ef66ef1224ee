package transcript

import (
	"context"
	"sync"
)

// DedupStore wraps a Store and discards rows whose dedup key it has
// already durably applied, making at-least-once retries of a partially
// applied batch safe for backends with no native idempotence (Sheets
// append has none; Firestore gets it from document IDs).
//
// Keys are tracked per process epoch. Seed restores keys observed while
// replaying the backend, so a restarted process does not re-append rows
// already visible in the store.
type DedupStore struct {
	inner Store

	mu      sync.Mutex
	applied map[string]struct{}
}

// NewDedupStore wraps inner with a dedup layer.
func NewDedupStore(inner Store) *DedupStore {
	return &DedupStore{
		inner:   inner,
		applied: make(map[string]struct{}),
	}
}

// Seed marks rows as already applied without writing them. Used when
// rebuilding state from Replay.
func (s *DedupStore) Seed(rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.applied[r.Key()] = struct{}{}
	}
}

// Append writes the rows not yet applied, preserving their order. Keys are
// marked applied only after the inner append succeeds, so a failed attempt
// is retried in full.
func (s *DedupStore) Append(ctx context.Context, rows []Row) error {
	s.mu.Lock()
	fresh := make([]Row, 0, len(rows))
	for _, r := range rows {
		if _, seen := s.applied[r.Key()]; !seen {
			fresh = append(fresh, r)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	if err := s.inner.Append(ctx, fresh); err != nil {
		return err
	}

	s.mu.Lock()
	for _, r := range fresh {
		s.applied[r.Key()] = struct{}{}
	}
	s.mu.Unlock()

	return nil
}

// Flush delegates to the inner store.
func (s *DedupStore) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

// Replay delegates to the inner store and seeds the dedup set with what it
// finds.
func (s *DedupStore) Replay(ctx context.Context, sessionID string) ([]Row, error) {
	rows, err := s.inner.Replay(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.Seed(rows)
	return rows, nil
}

// Close delegates to the inner store.
func (s *DedupStore) Close() error {
	return s.inner.Close()
}
