// Package transcript persists conversation turns to an external tabular
// store. The store is the durable system of record: in-memory session and
// turn state is a cache rebuildable by replaying it.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crtlab/crtchat/internal/session"
)

// Row is the persisted projection of a turn: the flat record appended to
// the external store. (SessionID, Seq) is the client-generated dedup key.
type Row struct {
	Timestamp time.Time
	SessionID string
	Arm       session.Arm
	Role      session.Role
	Content   string
	Seq       int
}

// Key returns the dedup key for the row. Session-creation rows sit
// outside the turn sequence and key on the session id alone, so the
// conversation turns number 0..n-1 regardless of how the session began.
func (r Row) Key() string {
	if r.Role == session.RoleSession {
		return r.SessionID + "-session"
	}
	return fmt.Sprintf("%s-%05d", r.SessionID, r.Seq)
}

// SessionRow builds the synthetic creation row for a session. Its Seq is
// -1: it is not a turn and must never consume a turn sequence number.
func SessionRow(sess *session.Session, content string) Row {
	return Row{
		Timestamp: sess.CreatedAt,
		SessionID: sess.ID,
		Arm:       sess.Arm,
		Role:      session.RoleSession,
		Content:   content,
		Seq:       -1,
	}
}

// ErrStoreUnavailable marks a transient backend failure. The batch was not
// (fully) applied; the caller must retry the entire batch. Retrying an
// already-partially-applied batch is safe: rows are deduplicated by Key.
var ErrStoreUnavailable = errors.New("transcript store unavailable")

// Store is an append-only, ordered log of rows.
// Implementations must be safe for concurrent use and must preserve the
// relative order of rows submitted for the same session.
type Store interface {
	// Append durably adds rows in order. It either fully succeeds or
	// fails with an error wrapping ErrStoreUnavailable, leaving the
	// caller responsible for retrying the whole batch.
	Append(ctx context.Context, rows []Row) error

	// Flush returns only once all previously accepted rows are confirmed
	// durable. Called before responding so a crash right after the
	// response never loses a turn the participant believes was saved.
	Flush(ctx context.Context) error

	// Replay returns all rows for a session in append order.
	Replay(ctx context.Context, sessionID string) ([]Row, error)

	// Close releases backend resources.
	Close() error
}

// FromTurn projects a turn into a row.
func FromTurn(t session.Turn, arm session.Arm) Row {
	return Row{
		Timestamp: t.Timestamp,
		SessionID: t.SessionID,
		Arm:       arm,
		Role:      t.Role,
		Content:   t.Content,
		Seq:       t.Seq,
	}
}

// ToTurn reconstructs the turn a row was projected from.
func (r Row) ToTurn() session.Turn {
	return session.Turn{
		SessionID: r.SessionID,
		Seq:       r.Seq,
		Role:      r.Role,
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
}
