package transcript

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crtlab/crtchat/internal/session"
)

// firestoreRow is the document layout for one transcript row.
type firestoreRow struct {
	Timestamp time.Time `firestore:"timestamp"`
	SessionID string    `firestore:"session_id"`
	Arm       string    `firestore:"arm"`
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	Seq       int       `firestore:"seq"`
}

// FirestoreStore persists rows as Firestore documents keyed by the dedup
// key, so retried appends are idempotent without a wrapping DedupStore:
// Create on an existing document ID is skipped.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreOption configures a FirestoreStore.
type FirestoreOption func(*firestoreConfig)

type firestoreConfig struct {
	credentialsFile string
	collection      string
}

// WithFirestoreCredentialsFile uses a service account credentials file.
func WithFirestoreCredentialsFile(path string) FirestoreOption {
	return func(c *firestoreConfig) { c.credentialsFile = path }
}

// WithCollection sets the collection name (default "conversations").
func WithCollection(name string) FirestoreOption {
	return func(c *firestoreConfig) { c.collection = name }
}

// NewFirestoreStore creates a store writing to the given project.
func NewFirestoreStore(ctx context.Context, projectID string, opts ...FirestoreOption) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	cfg := &firestoreConfig{collection: "conversations"}
	for _, opt := range opts {
		opt(cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreStore{client: client, collection: cfg.collection}, nil
}

// Append creates one document per row, keyed by the dedup key. Rows whose
// document already exists are skipped, which makes batch retries safe.
func (s *FirestoreStore) Append(ctx context.Context, rows []Row) error {
	coll := s.client.Collection(s.collection)

	for _, r := range rows {
		doc := coll.Doc(r.Key())
		_, err := doc.Create(ctx, firestoreRow{
			Timestamp: r.Timestamp,
			SessionID: r.SessionID,
			Arm:       string(r.Arm),
			Role:      string(r.Role),
			Content:   r.Content,
			Seq:       r.Seq,
		})
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				continue
			}
			return wrapFirestoreErr("append", err)
		}
	}

	return nil
}

// Flush is a no-op: Create returns only after the write is durable.
func (s *FirestoreStore) Flush(context.Context) error {
	return nil
}

// Replay returns all rows for a session ordered by sequence number.
func (s *FirestoreStore) Replay(ctx context.Context, sessionID string) ([]Row, error) {
	iter := s.client.Collection(s.collection).
		Where("session_id", "==", sessionID).
		Documents(ctx)
	defer iter.Stop()

	var rows []Row
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestoreErr("replay", err)
		}

		var fr firestoreRow
		if err := doc.DataTo(&fr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row %s: %w", doc.Ref.ID, err)
		}
		rows = append(rows, Row{
			Timestamp: fr.Timestamp,
			SessionID: fr.SessionID,
			Arm:       session.Arm(fr.Arm),
			Role:      session.Role(fr.Role),
			Content:   fr.Content,
			Seq:       fr.Seq,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	return rows, nil
}

// Close closes the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func wrapFirestoreErr(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: firestore %s: %v", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("firestore %s: %w", op, err)
}
