package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// idSpace is 10^15: identifiers are uniform over [0, 10^15) and printed
// zero-padded to 15 digits.
var idSpace = new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)

// Registry issues session identifiers and tracks live sessions. Safe for
// concurrent use.
type Registry struct {
	assigner *Assigner

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry that uses assigner for arm assignment.
func NewRegistry(assigner *Assigner) *Registry {
	return &Registry{
		assigner: assigner,
		sessions: make(map[string]*Session),
	}
}

// ValidID reports whether id is exactly 15 ASCII digits.
func ValidID(id string) bool {
	if len(id) != 15 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// Create issues a new session with a fresh identifier and an assigned
// arm. Identifiers are drawn from crypto/rand; a collision within one
// process is retried.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 10; attempt++ {
		n, err := rand.Int(rand.Reader, idSpace)
		if err != nil {
			return nil, fmt.Errorf("draw session id: %w", err)
		}
		id := fmt.Sprintf("%015d", n)
		if _, taken := r.sessions[id]; taken {
			continue
		}

		arm, err := r.assigner.Assign(id)
		if err != nil {
			return nil, fmt.Errorf("assign arm: %w", err)
		}
		s := &Session{ID: id, Arm: arm, CreatedAt: time.Now().UTC()}
		r.sessions[id] = s
		return s, nil
	}
	return nil, fmt.Errorf("exhausted session id attempts")
}

// Resolve returns the session for id. A malformed id yields
// ErrInvalidSessionFormat; a well-formed but unknown id yields
// ErrSessionNotFound, which callers may recover from by replaying the
// transcript store.
func (r *Registry) Resolve(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionFormat, id)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Restore registers a session rebuilt from the transcript store, e.g.
// after a process restart. Restoring an already-known id returns the
// existing session unchanged.
func (r *Registry) Restore(id string, arm Arm, createdAt time.Time) (*Session, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionFormat, id)
	}
	if !arm.Valid() {
		return nil, fmt.Errorf("unknown arm %q", arm)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	s := &Session{ID: id, Arm: arm, CreatedAt: createdAt}
	r.sessions[id] = s
	return s, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
