package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iamwavecut/tool"
	pkgerrors "github.com/pkg/errors"
)

// Operational markers (cleanup runs and the like) live in kv_store.
// Timestamps are stored as RFC3339 so the rows stay human-readable.

func (c *sqliteClient) GetKV(ctx context.Context, key string) (string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var value string
	err := c.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", pkgerrors.WithMessagef(err, "cant get kv %q", key)
	}
	return value, nil
}

func (c *sqliteClient) SetKV(ctx context.Context, key, value string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	return tool.Err(c.db.ExecContext(ctx, query, key, value))
}

// GetKVTime reads a timestamp marker. Zero time when the key is unset.
func (c *sqliteClient) GetKVTime(ctx context.Context, key string) (time.Time, error) {
	value, err := c.GetKV(ctx, key)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, pkgerrors.WithMessagef(err, "cant parse kv %q as time", key)
	}
	return ts, nil
}

func (c *sqliteClient) SetKVTime(ctx context.Context, key string, t time.Time) error {
	return c.SetKV(ctx, key, t.UTC().Format(time.RFC3339))
}
