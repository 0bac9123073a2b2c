package journal

import (
	"context"
	"database/sql"
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
	schema := `CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        direction TEXT NOT NULL,
        kind TEXT NOT NULL,
        manufacturer TEXT NOT NULL,
        serial_number TEXT NOT NULL,
        header_id INTEGER NOT NULL,
        topic TEXT NOT NULL,
        retained INTEGER NOT NULL,
        payload BLOB
    );
    CREATE INDEX IF NOT EXISTS messages_serial_ts ON messages (serial_number, ts);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (ts, direction, kind, manufacturer, serial_number, header_id, topic, retained, payload)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Time.UnixNano(), string(rec.Direction), rec.Kind, rec.Manufacturer, rec.SerialNumber,
		int64(rec.HeaderID), rec.Topic, rec.Retained, rec.Payload)
	return err
}

// Query returns records matching q in insertion order.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, direction, kind, manufacturer, serial_number, header_id, topic, retained, payload
              FROM messages WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.Direction != "" {
		query += ` AND direction = ?`
		args = append(args, string(q.Direction))
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, q.Kind)
	}
	if q.SerialNumber != "" {
		query += ` AND serial_number = ?`
		args = append(args, q.SerialNumber)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r         Record
			ts        int64
			direction string
			headerID  int64
		)
		if err := rows.Scan(&ts, &direction, &r.Kind, &r.Manufacturer, &r.SerialNumber, &headerID, &r.Topic, &r.Retained, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Time = timeFromUnixNano(ts)
		r.Direction = Direction(direction)
		r.HeaderID = uint32(headerID)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
