// Package session manages study sessions: identifier issuance, arm
// assignment, and per-session serialization.
package session

import (
	"errors"
	"time"
)

// Arm identifies which study condition a session was assigned to.
type Arm string

const (
	// ArmShort gets the system prompt only.
	ArmShort Arm = "short"
	// ArmLong gets the system prompt plus the context document.
	ArmLong Arm = "long"
)

// Valid reports whether a is a known arm.
func (a Arm) Valid() bool {
	return a == ArmShort || a == ArmLong
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSession marks the synthetic row written when a session is
	// created, before any conversation turns.
	RoleSession Role = "session"
)

// Session is one participant's conversation. The authoritative record
// lives in the transcript store; in-memory sessions are a cache
// rebuildable by replaying it.
type Session struct {
	ID        string
	Arm       Arm
	CreatedAt time.Time
}

// Turn is a single message within a session. Seq starts at 0 and is
// assigned in arrival order with no gaps.
type Turn struct {
	SessionID string
	Seq       int
	Role      Role
	Content   string
	Timestamp time.Time
}

var (
	// ErrSessionNotFound is returned when a well-formed identifier has
	// no registered session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionFormat is returned for identifiers that are not
	// exactly 15 ASCII digits. Never retried.
	ErrInvalidSessionFormat = errors.New("invalid session identifier format")
)
