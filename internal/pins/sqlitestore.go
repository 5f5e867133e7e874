package pins

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists pin state in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const autoPinKey = "auto_pin"

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS pins (id TEXT PRIMARY KEY);`,
		`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			skills TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// LoadPins returns every pinned identity.
func (s *SQLiteStore) LoadPins() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM pins ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SavePins replaces the pinned set in one transaction.
func (s *SQLiteStore) SavePins(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM pins`); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO pins (id) VALUES (?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadAutoPin reads the auto-pin flag.
func (s *SQLiteStore) LoadAutoPin() (bool, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, autoPinKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return value == "true", true, nil
}

// SaveAutoPin writes the auto-pin flag.
func (s *SQLiteStore) SaveAutoPin(enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, autoPinKey, value)
	return err
}

// LoadHistory returns up to limit newest entries, oldest first.
func (s *SQLiteStore) LoadHistory(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT ts, request_id, skills FROM history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []HistoryEntry
	for rows.Next() {
		var (
			entry  HistoryEntry
			skills string
		)
		if err := rows.Scan(&entry.TS, &entry.RequestID, &skills); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(skills), &entry.Skills); err != nil {
			return nil, fmt.Errorf("history entry %d: %w", entry.TS, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendHistory inserts entry and trims the table to limit rows.
func (s *SQLiteStore) AppendHistory(entry HistoryEntry, limit int) error {
	skills, err := json.Marshal(entry.Skills)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT INTO history (ts, request_id, skills) VALUES (?, ?, ?)`,
		entry.TS, entry.RequestID, string(skills)); err != nil {
		return err
	}
	if limit > 0 {
		if _, err := tx.Exec(`DELETE FROM history WHERE seq NOT IN (
			SELECT seq FROM history ORDER BY seq DESC LIMIT ?)`, limit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
