package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is the stored timestamp format. Unlike RFC3339Nano it never
// trims trailing zeros, so the TEXT columns compare correctly as strings
// at sub-second granularity.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteIndex implements Index on an embedded SQLite database.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens or creates the catalog database at the given path.
// Use ":memory:" for an in-memory catalog.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create index dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index db: %w", err)
	}

	s := &SQLiteIndex{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate index schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteIndex) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_index (
		id               TEXT PRIMARY KEY,
		agent_id         TEXT NOT NULL,
		memory_type      TEXT NOT NULL,
		storage_location TEXT NOT NULL,
		importance       INTEGER NOT NULL DEFAULT 5,
		metadata         TEXT,
		created_at       TEXT NOT NULL,
		accessed_at      TEXT,
		access_count     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memory_agent ON memory_index(agent_id);
	CREATE INDEX IF NOT EXISTS idx_memory_agent_type ON memory_index(agent_id, memory_type);
	CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_index(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memory_importance ON memory_index(agent_id, importance DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts or replaces an entry.
func (s *SQLiteIndex) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("index: entry id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var metaJSON *string
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		str := string(raw)
		metaJSON = &str
	}

	var accessedAt *string
	if !e.AccessedAt.IsZero() {
		str := e.AccessedAt.UTC().Format(timeLayout)
		accessedAt = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memory_index
			(id, agent_id, memory_type, storage_location, importance, metadata, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.MemoryType, e.StorageLocation, e.Importance,
		metaJSON, e.CreatedAt.UTC().Format(timeLayout), accessedAt, e.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record index entry %s: %w", e.ID, err)
	}
	return nil
}

// Get returns an entry by id.
func (s *SQLiteIndex) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, memory_type, storage_location, importance, metadata, created_at, accessed_at, access_count
		FROM memory_index WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index entry %s: %w", id, err)
	}
	return e, nil
}

// List returns entries matching the filter.
func (s *SQLiteIndex) List(ctx context.Context, f Filter) ([]Entry, error) {
	var conds []string
	var args []interface{}

	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.MemoryType != "" {
		conds = append(conds, "memory_type = ?")
		args = append(args, f.MemoryType)
	}
	if f.MinImportance > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, f.MinImportance)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until.UTC().Format(timeLayout))
	}

	query := `SELECT id, agent_id, memory_type, storage_location, importance, metadata, created_at, accessed_at, access_count FROM memory_index`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	switch f.OrderBy {
	case "importance":
		query += " ORDER BY importance DESC, created_at DESC"
	case "access_count":
		query += " ORDER BY access_count DESC, created_at DESC"
	default:
		query += " ORDER BY created_at DESC"
	}

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list index entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// TrackAccess bumps the access count and timestamp for an entry.
func (s *SQLiteIndex) TrackAccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_index
		SET access_count = access_count + 1, accessed_at = ?
		WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to track access for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes entries by id.
func (s *SQLiteIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_index WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete index entries: %w", err)
	}
	return nil
}

// DeleteByAgent removes every entry for an agent.
func (s *SQLiteIndex) DeleteByAgent(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory_index WHERE agent_id = ?", agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge index entries for %s: %w", agentID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats summarizes an agent's catalog.
func (s *SQLiteIndex) Stats(ctx context.Context, agentID string) (Stats, error) {
	st := Stats{ByType: make(map[string]int)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(importance), 0), COALESCE(MIN(created_at), ''), COALESCE(MAX(created_at), '')
		FROM memory_index WHERE agent_id = ?`, agentID)

	var oldest, newest string
	if err := row.Scan(&st.Total, &st.AvgImportance, &oldest, &newest); err != nil {
		return st, fmt.Errorf("failed to load index stats: %w", err)
	}
	if oldest != "" {
		st.Oldest, _ = time.Parse(time.RFC3339Nano, oldest)
	}
	if newest != "" {
		st.Newest, _ = time.Parse(time.RFC3339Nano, newest)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_type, COUNT(*) FROM memory_index WHERE agent_id = ? GROUP BY memory_type`, agentID)
	if err != nil {
		return st, fmt.Errorf("failed to load index type stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memType string
		var count int
		if err := rows.Scan(&memType, &count); err != nil {
			return st, err
		}
		st.ByType[memType] = count
	}
	return st, rows.Err()
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var metaJSON, accessedAt sql.NullString
	var createdAt string

	err := row.Scan(&e.ID, &e.AgentID, &e.MemoryType, &e.StorageLocation,
		&e.Importance, &metaJSON, &createdAt, &accessedAt, &e.AccessCount)
	if err != nil {
		return nil, err
	}

	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if accessedAt.Valid && accessedAt.String != "" {
		e.AccessedAt, _ = time.Parse(time.RFC3339Nano, accessedAt.String)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return &e, nil
}
