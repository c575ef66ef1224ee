package transcript

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/crtlab/crtchat/internal/session"
)

// timestampLayout matches the layout the study's analysis scripts expect.
const timestampLayout = "2006-01-02T15:04:05"

// SheetsStore appends rows to a Google Sheets worksheet. Column layout:
// timestamp, session_id, arm, role, content, seq.
//
// The Sheets append API has no native idempotence, so a SheetsStore should
// always be wrapped in a DedupStore.
type SheetsStore struct {
	svc       *sheets.Service
	sheetID   string
	worksheet string
}

// SheetsOption configures a SheetsStore.
type SheetsOption func(*sheetsConfig)

type sheetsConfig struct {
	credentialsFile string
	worksheet       string
}

// WithCredentialsFile uses a service account credentials file instead of
// Application Default Credentials.
func WithCredentialsFile(path string) SheetsOption {
	return func(c *sheetsConfig) { c.credentialsFile = path }
}

// WithWorksheet sets the worksheet name (default "conversations").
func WithWorksheet(name string) SheetsOption {
	return func(c *sheetsConfig) { c.worksheet = name }
}

// NewSheetsStore creates a store writing to the given spreadsheet.
func NewSheetsStore(ctx context.Context, sheetID string, opts ...SheetsOption) (*SheetsStore, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("sheet id is required")
	}

	cfg := &sheetsConfig{worksheet: "conversations"}
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsStore{
		svc:       svc,
		sheetID:   sheetID,
		worksheet: cfg.worksheet,
	}, nil
}

// Append appends rows to the worksheet in order as a single values batch.
func (s *SheetsStore) Append(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		values[i] = []interface{}{
			r.Timestamp.Format(timestampLayout),
			r.SessionID,
			string(r.Arm),
			string(r.Role),
			r.Content,
			strconv.Itoa(r.Seq),
		}
	}

	_, err := s.svc.Spreadsheets.Values.
		Append(s.sheetID, s.worksheet+"!A:F", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return wrapSheetsErr("append", err)
	}

	return nil
}

// Flush is a read-back barrier: a successful metadata fetch confirms the
// service acknowledged prior writes (the values append API is synchronous,
// so acknowledged rows are already durable).
func (s *SheetsStore) Flush(ctx context.Context) error {
	_, err := s.svc.Spreadsheets.Get(s.sheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return wrapSheetsErr("flush", err)
	}
	return nil
}

// Replay reads the worksheet and returns the rows for one session in
// append order.
func (s *SheetsStore) Replay(ctx context.Context, sessionID string) ([]Row, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.sheetID, s.worksheet+"!A:F").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapSheetsErr("replay", err)
	}

	var rows []Row
	for _, raw := range resp.Values {
		if len(raw) < 5 {
			continue
		}
		if fmt.Sprint(raw[1]) != sessionID {
			continue
		}

		row := Row{
			SessionID: sessionID,
			Arm:       session.Arm(fmt.Sprint(raw[2])),
			Role:      session.Role(fmt.Sprint(raw[3])),
			Content:   fmt.Sprint(raw[4]),
		}
		if ts, err := time.Parse(timestampLayout, fmt.Sprint(raw[0])); err == nil {
			row.Timestamp = ts
		}
		if len(raw) > 5 {
			if seq, err := strconv.Atoi(fmt.Sprint(raw[5])); err == nil {
				row.Seq = seq
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Close releases nothing; the sheets client has no connection state.
func (s *SheetsStore) Close() error {
	return nil
}

// wrapSheetsErr classifies backend failures. Rate limits and server errors
// are transient (ErrStoreUnavailable, retryable); auth and request errors
// are not.
func wrapSheetsErr(op string, err error) error {
	if gerr, ok := err.(*googleapi.Error); ok {
		if gerr.Code == 429 || gerr.Code >= 500 {
			return fmt.Errorf("%w: sheets %s: %v", ErrStoreUnavailable, op, err)
		}
		return fmt.Errorf("sheets %s: %w", op, err)
	}
	// Network-level failure.
	return fmt.Errorf("%w: sheets %s: %v", ErrStoreUnavailable, op, err)
}
