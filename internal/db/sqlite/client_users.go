package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/joinbot/internal/db"
)

func (c *sqliteClient) UpsertUser(ctx context.Context, user *db.UserRecord) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO users (
			user_id, first_seen_at, last_action_at,
			approved_count, declined_count, banned_count, banned
		) VALUES (
			:user_id, :first_seen_at, :last_action_at,
			:approved_count, :declined_count, :banned_count, :banned
		)
		ON CONFLICT(user_id) DO UPDATE SET
			last_action_at = excluded.last_action_at,
			approved_count = excluded.approved_count,
			declined_count = excluded.declined_count,
			banned_count = excluded.banned_count,
			banned = excluded.banned
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, user))
}

func (c *sqliteClient) GetUser(ctx context.Context, userID int64) (*db.UserRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var user db.UserRecord
	err := c.db.GetContext(ctx, &user, `
		SELECT user_id, first_seen_at, last_action_at,
			approved_count, declined_count, banned_count, banned
		FROM users
		WHERE user_id = ?
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
