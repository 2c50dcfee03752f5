package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PinnedChatsKey is the local state key holding the pinned chat ids.
const PinnedChatsKey = "pinnedChats"

// LocalStore keeps client-side state that survives restarts in a SQLite
// key/value table.
type LocalStore struct {
	db *sql.DB
}

func NewLocalStore(dataSourceName string) (*LocalStore, error) {
	db, err := openSQLite(dataSourceName)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS local_state (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    )`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize local state: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM local_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *LocalStore) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO local_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// LoadValue decodes the JSON value stored under key into v. ok is false
// when nothing is stored.
func (s *LocalStore) LoadValue(ctx context.Context, key string, v any) (ok bool, err error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *LocalStore) SaveValue(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.put(ctx, key, string(data))
}

func (s *LocalStore) DeleteValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM local_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// LoadPins returns the stored pinned chat ids. A missing entry yields none;
// an entry that is not a JSON list of strings is reported as an error.
func (s *LocalStore) LoadPins(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := s.LoadValue(ctx, PinnedChatsKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *LocalStore) SavePins(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return s.SaveValue(ctx, PinnedChatsKey, ids)
}
