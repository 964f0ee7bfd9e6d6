package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS cycle_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER,
        tier TEXT,
        degraded INTEGER,
        record TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec CycleRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	degraded := 0
	if rec.Degraded {
		degraded = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycle_logs (ts, tier, degraded, record) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.Unix(), rec.Tier, degraded, string(b))
	return err
}

// Query returns records matching q.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]CycleRecord, error) {
	var args []any
	query := `SELECT record FROM cycle_logs WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.Unix())
	}
	if q.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, q.Tier)
	}
	if q.Degraded != nil {
		query += ` AND degraded = ?`
		if *q.Degraded {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []CycleRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r CycleRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
