package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapcal/mapcal/internal/calendar"
)

// PostgresMirror is a PostgreSQL implementation of Mirror.
// Each calendar is a single row holding the JSONB document and its revision.
type PostgresMirror struct {
	pool *pgxpool.Pool
}

// NewPostgresMirror creates a new PostgreSQL mirror.
func NewPostgresMirror(pool *pgxpool.Pool) *PostgresMirror {
	return &PostgresMirror{pool: pool}
}

// EnsureSchema creates the calendars table if it does not exist.
func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS calendars (
			id         TEXT PRIMARY KEY,
			document   JSONB NOT NULL,
			revision   BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create calendars table: %w", err)
	}
	return nil
}

// Load retrieves all calendar rows.
func (m *PostgresMirror) Load(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, document, revision, updated_at
		FROM calendars
		ORDER BY id
	`

	rows, err := m.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec Record
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &raw, &rec.Revision, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rec.Document); err != nil {
			return nil, fmt.Errorf("decode calendar %s: %w", rec.ID, err)
		}
		if rec.Document.Events == nil {
			rec.Document.Events = make(map[int][]calendar.Event)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Save upserts a calendar row.
func (m *PostgresMirror) Save(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("encode calendar %s: %w", rec.ID, err)
	}

	query := `
		INSERT INTO calendars (id, document, revision, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			revision = EXCLUDED.revision,
			updated_at = EXCLUDED.updated_at
	`

	_, err = m.pool.Exec(ctx, query, rec.ID, raw, rec.Revision, rec.UpdatedAt)
	return err
}

// Delete removes a calendar row.
func (m *PostgresMirror) Delete(ctx context.Context, id string) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM calendars WHERE id = $1`, id)
	return err
}

// Ensure PostgresMirror implements Mirror interface.
var _ Mirror = (*PostgresMirror)(nil)
