package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps records in a single table, one row per record.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS records (
  id TEXT PRIMARY KEY,
  parent_id TEXT NOT NULL DEFAULT '',
  structure_data JSONB,
  document_data JSONB,
  position_x DOUBLE PRECISION NOT NULL DEFAULT 0,
  position_y DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_parent_id ON records (parent_id);
`)
	})
	return s.schemaErr
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if err := s.ensureSchema(ctx); err != nil {
		return &Error{Op: "insert", Err: err}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records (id, parent_id, structure_data, document_data, position_x, position_y)
VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.ParentID, nullableJSON(rec.StructureData), nullableJSON(rec.DocumentData), rec.PositionX, rec.PositionY)
	if err != nil {
		return &Error{Op: "insert", Err: err}
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	if err := s.ensureSchema(ctx); err != nil {
		return &Error{Op: "update", Err: err}
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE records
SET parent_id=$2, structure_data=$3, document_data=$4, position_x=$5, position_y=$6
WHERE id=$1`,
		rec.ID, rec.ParentID, nullableJSON(rec.StructureData), nullableJSON(rec.DocumentData), rec.PositionX, rec.PositionY)
	if err != nil {
		return &Error{Op: "update", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &Error{Op: "update", Err: ErrNotFound}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	if err := s.ensureSchema(ctx); err != nil {
		return &Error{Op: "upsert", Err: err}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records (id, parent_id, structure_data, document_data, position_x, position_y)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id)
DO UPDATE SET parent_id=EXCLUDED.parent_id,
  structure_data=EXCLUDED.structure_data,
  document_data=EXCLUDED.document_data,
  position_x=EXCLUDED.position_x,
  position_y=EXCLUDED.position_y`,
		rec.ID, rec.ParentID, nullableJSON(rec.StructureData), nullableJSON(rec.DocumentData), rec.PositionX, rec.PositionY)
	if err != nil {
		return &Error{Op: "upsert", Err: err}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return &Error{Op: "delete", Err: err}
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ANY($1)`, ids)
	if err != nil {
		return &Error{Op: "delete", Err: err}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Record{}, false, &Error{Op: "get", Err: err}
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, parent_id, structure_data, document_data, position_x, position_y
FROM records WHERE id = $1`, strings.TrimSpace(id))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, &Error{Op: "get", Err: err}
	}
	return rec, true, nil
}

func (s *PostgresStore) ListByParent(ctx context.Context, parentID string) ([]Record, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, parent_id, structure_data, document_data, position_x, position_y
FROM records WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var structure, doc []byte
	if err := row.Scan(&rec.ID, &rec.ParentID, &structure, &doc, &rec.PositionX, &rec.PositionY); err != nil {
		return Record{}, err
	}
	rec.StructureData = json.RawMessage(structure)
	rec.DocumentData = json.RawMessage(doc)
	return rec, nil
}
