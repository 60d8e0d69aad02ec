// Package feedback is the human-feedback channel: confirmation requests
// raised by the pipeline and the corrections humans send back, persisted in
// SQLite.
package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a confirmation request does not exist.
var ErrNotFound = errors.New("feedback: not found")

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS confirmation_requests (
	request_id              TEXT PRIMARY KEY,
	message_id              TEXT NOT NULL,
	service                 TEXT NOT NULL,
	operation               TEXT NOT NULL,
	zone                    TEXT NOT NULL,
	reason                  TEXT NOT NULL,
	confidence              REAL NOT NULL,
	confidence_threshold    REAL NOT NULL,
	original_interpretation TEXT NOT NULL,
	resolved                INTEGER NOT NULL DEFAULT 0,
	created_at              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS confirmation_requests_pending
	ON confirmation_requests (resolved, created_at);

CREATE TABLE IF NOT EXISTS corrections (
	correction_id        TEXT PRIMARY KEY,
	request_id           TEXT,
	message_id           TEXT NOT NULL,
	accepted             INTEGER NOT NULL,
	suggested_correction TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	FOREIGN KEY (request_id) REFERENCES confirmation_requests(request_id)
);
`

// Request asks a human to confirm an interpretation.
type Request struct {
	ID                     string    `json:"request_id"`
	MessageID              string    `json:"message_id"`
	Service                string    `json:"service"`
	Operation              string    `json:"operation"`
	Zone                   string    `json:"zone"`
	Reason                 string    `json:"reason"`
	Confidence             float64   `json:"confidence"`
	ConfidenceThreshold    float64   `json:"confidence_threshold"`
	OriginalInterpretation string    `json:"original_interpretation"`
	Resolved               bool      `json:"resolved"`
	CreatedAt              time.Time `json:"created_at"`
}

// Correction is a human's answer, optionally tied to a Request.
type Correction struct {
	ID                  string    `json:"correction_id"`
	RequestID           string    `json:"request_id,omitempty"`
	MessageID           string    `json:"message_id"`
	Accepted            bool      `json:"accepted"`
	SuggestedCorrection string    `json:"suggested_correction,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Store persists requests and corrections.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the SQLite database at path (":memory:" for a private
// in-memory database) and runs migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRequest stores r, assigning its ID and creation time.
func (s *Store) RecordRequest(ctx context.Context, r Request) (Request, error) {
	r.ID = uuid.NewString()
	r.CreatedAt = s.now().UTC()
	r.Resolved = false

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO confirmation_requests
		 (request_id, message_id, service, operation, zone, reason, confidence,
		  confidence_threshold, original_interpretation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MessageID, r.Service, r.Operation, r.Zone, r.Reason, r.Confidence,
		r.ConfidenceThreshold, r.OriginalInterpretation, r.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Request{}, fmt.Errorf("insert confirmation request: %w", err)
	}
	return r, nil
}

const requestColumns = `request_id, message_id, service, operation, zone, reason, confidence,
	confidence_threshold, original_interpretation, resolved, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (Request, error) {
	var (
		r         Request
		createdAt string
	)
	err := row.Scan(&r.ID, &r.MessageID, &r.Service, &r.Operation, &r.Zone, &r.Reason,
		&r.Confidence, &r.ConfidenceThreshold, &r.OriginalInterpretation, &r.Resolved, &createdAt)
	if err != nil {
		return Request{}, err
	}
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Request{}, fmt.Errorf("parse created_at: %w", err)
	}
	return r, nil
}

// Request returns the request with the given ID.
func (s *Store) Request(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM confirmation_requests WHERE request_id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// Pending returns unresolved requests, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM confirmation_requests
		 WHERE resolved = 0 ORDER BY created_at, rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordCorrection stores c, assigning its ID and creation time. When
// c.RequestID is set the request must exist; it is marked resolved and its
// message ID is used if c has none.
func (s *Store) RecordCorrection(ctx context.Context, c Correction) (Correction, error) {
	c.ID = uuid.NewString()
	c.CreatedAt = s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Correction{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var requestID any
	if c.RequestID != "" {
		requestID = c.RequestID
		var messageID string
		err := tx.QueryRowContext(ctx,
			`SELECT message_id FROM confirmation_requests WHERE request_id = ?`, c.RequestID).Scan(&messageID)
		if errors.Is(err, sql.ErrNoRows) {
			return Correction{}, fmt.Errorf("request %s: %w", c.RequestID, ErrNotFound)
		}
		if err != nil {
			return Correction{}, fmt.Errorf("get request: %w", err)
		}
		if c.MessageID == "" {
			c.MessageID = messageID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE confirmation_requests SET resolved = 1 WHERE request_id = ?`, c.RequestID); err != nil {
			return Correction{}, fmt.Errorf("resolve request: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO corrections (correction_id, request_id, message_id, accepted, suggested_correction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, requestID, c.MessageID, c.Accepted, c.SuggestedCorrection, c.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Correction{}, fmt.Errorf("insert correction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Correction{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// Corrections returns the most recent corrections, newest first.
func (s *Store) Corrections(ctx context.Context, limit int) ([]Correction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT correction_id, COALESCE(request_id, ''), message_id, accepted, suggested_correction, created_at
		 FROM corrections ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var (
			c         Correction
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.RequestID, &c.MessageID, &c.Accepted, &c.SuggestedCorrection, &createdAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
