// Package audit persists masking-run summaries in SQLite.
//
// Records hold only metadata about a run: entity-type counts, adapter
// failures and a SHA-256 digest of the input. Raw text and span contents
// never touch the database, so the audit trail itself carries no PII.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	aegisotel "github.com/dativo-io/aegis/internal/otel"
	"github.com/dativo-io/aegis/internal/shield"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/audit")

// Store persists run records in SQLite.
type Store struct {
	db *sql.DB
}

// Record is the audit summary of one protection run.
type Record struct {
	ID              string                  `json:"id"`
	Timestamp       time.Time               `json:"timestamp"`
	Operation       string                  `json:"operation"`
	Language        string                  `json:"language"`
	Mode            string                  `json:"mode"`
	Strategy        string                  `json:"strategy"`
	InputHash       string                  `json:"input_hash"`
	InputCodePoints int                     `json:"input_code_points"`
	SpanCount       int                     `json:"span_count"`
	EntityCounts    map[string]int          `json:"entity_counts,omitempty"`
	AdapterFailures []shield.AdapterFailure `json:"adapter_failures,omitempty"`
	DurationMS      int64                   `json:"duration_ms"`
}

// NewStore opens (or creates) the audit database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		operation TEXT NOT NULL,
		language TEXT NOT NULL,
		strategy TEXT NOT NULL,
		record_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRecord builds a Record from a protection result. The input text is
// hashed immediately; only the digest is retained.
func NewRecord(operation, mode string, res *shield.Result) *Record {
	sum := sha256.Sum256([]byte(res.Text))
	return &Record{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Operation:       operation,
		Language:        res.Language,
		Mode:            mode,
		Strategy:        res.Strategy,
		InputHash:       hex.EncodeToString(sum[:]),
		InputCodePoints: len([]rune(res.Text)),
		SpanCount:       len(res.Spans),
		EntityCounts:    res.EntityCounts,
		AdapterFailures: res.AdapterFailures,
		DurationMS:      res.Duration.Milliseconds(),
	}
}

// Save persists one record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "audit.save",
		trace.WithAttributes(
			attribute.String("audit.id", rec.ID),
			attribute.String("audit.operation", rec.Operation),
		))
	defer span.End()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	query := `INSERT INTO runs (id, timestamp, operation, language, strategy, record_json)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp, rec.Operation, rec.Language, rec.Strategy, string(recordJSON),
	)
	if err != nil {
		return fmt.Errorf("storing audit record: %w", err)
	}

	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "audit.get",
		trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	var recordJSON string
	query := `SELECT record_json FROM runs WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&recordJSON)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling audit record: %w", err)
	}

	return &rec, nil
}

// List returns records matching the given filters, newest first.
func (s *Store) List(ctx context.Context, operation string, from, to time.Time, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(attribute.String("audit.operation", operation)))
	defer span.End()

	query := `SELECT record_json FROM runs WHERE 1=1`
	args := []interface{}{}

	if operation != "" {
		query += ` AND operation = ?`
		args = append(args, operation)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to)
	}

	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			continue
		}

		results = append(results, rec)
	}

	span.SetAttributes(attribute.Int("audit.record_count", len(results)))
	return results, nil
}

// EntityTotals sums detected entity counts per type over the half-open
// time range [from, to).
func (s *Store) EntityTotals(ctx context.Context, from, to time.Time) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "audit.entity_totals")
	defer span.End()

	query := `SELECT record_json FROM runs WHERE 1=1`
	args := []interface{}{}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records for totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			continue
		}
		for et, n := range rec.EntityCounts {
			totals[et] += n
		}
	}

	span.SetAttributes(attribute.Int("audit.entity_type_count", len(totals)))
	return totals, nil
}
