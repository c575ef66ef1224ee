package transcript

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used for development and tests.
// It supports failure injection so retry and requeue paths can be
// exercised without a real backend.
type MemoryStore struct {
	mu             sync.Mutex
	rows           []Row
	failures       int
	replayFailures int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailNext makes the next n Append calls fail with ErrStoreUnavailable.
func (s *MemoryStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// FailReplays makes the next n Replay calls fail with ErrStoreUnavailable.
func (s *MemoryStore) FailReplays(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayFailures = n
}

// Append adds rows, or fails if a failure is queued.
func (s *MemoryStore) Append(_ context.Context, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}

	s.rows = append(s.rows, rows...)
	return nil
}

// Flush is a no-op: appended rows are immediately visible.
func (s *MemoryStore) Flush(context.Context) error {
	return nil
}

// Replay returns all rows for a session in append order.
func (s *MemoryStore) Replay(_ context.Context, sessionID string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replayFailures > 0 {
		s.replayFailures--
		return nil, fmt.Errorf("%w: injected replay failure", ErrStoreUnavailable)
	}

	var out []Row
	for _, r := range s.rows {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rows returns a copy of every stored row, for test assertions.
func (s *MemoryStore) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// Close releases nothing.
func (s *MemoryStore) Close() error {
	return nil
}
