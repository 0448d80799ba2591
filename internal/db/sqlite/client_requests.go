package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/jmoiron/sqlx"

	"github.com/iamwavecut/joinbot/internal/db"
)

const requestColumns = `chat_id, user_id, first_name, last_name, username, status,
	confirm_token, prompt_msg_id, requested_at, confirm_due, decided_at, decided_by`

func (c *sqliteClient) UpsertRequest(ctx context.Context, req *db.JoinRequest) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO join_requests (
			chat_id, user_id, first_name, last_name, username, status,
			confirm_token, prompt_msg_id, requested_at, confirm_due, decided_at, decided_by
		) VALUES (
			:chat_id, :user_id, :first_name, :last_name, :username, :status,
			:confirm_token, :prompt_msg_id, :requested_at, :confirm_due, :decided_at, :decided_by
		)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			status = excluded.status,
			confirm_token = excluded.confirm_token,
			prompt_msg_id = excluded.prompt_msg_id,
			requested_at = excluded.requested_at,
			confirm_due = excluded.confirm_due,
			decided_at = excluded.decided_at,
			decided_by = excluded.decided_by
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, req))
}

func (c *sqliteClient) GetRequest(ctx context.Context, chatID, userID int64) (*db.JoinRequest, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var req db.JoinRequest
	err := c.db.GetContext(ctx, &req, `
		SELECT `+requestColumns+`
		FROM join_requests
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (c *sqliteClient) ListRequests(ctx context.Context, filter db.RequestFilter) ([]*db.JoinRequest, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	query := `SELECT ` + requestColumns + ` FROM join_requests`
	var (
		clauses []string
		args    []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]interface{}, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, s)
		}
		in, inArgs, err := sqlx.In("status IN (?)", statuses)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, in)
		args = append(args, inArgs...)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "requested_at >= ?")
		args = append(args, filter.Since)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY requested_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var requests []*db.JoinRequest
	err := c.db.SelectContext(ctx, &requests, c.db.Rebind(query), args...)
	return requests, err
}

func (c *sqliteClient) GetExpiredRequests(ctx context.Context, now time.Time) ([]*db.JoinRequest, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var requests []*db.JoinRequest
	err := c.db.SelectContext(ctx, &requests, `
		SELECT `+requestColumns+`
		FROM join_requests
		WHERE status = ? AND confirm_due IS NOT NULL AND confirm_due <= ?
	`, db.StatusPendingConfirmation, now)
	return requests, err
}

// PurgeRequestsOlderThan removes terminal requests requested before the
// cutoff. Pending and awaiting-admin rows are never touched.
func (c *sqliteClient) PurgeRequestsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM join_requests
		WHERE requested_at < ? AND status IN (?, ?, ?)
	`, cutoff, db.StatusApproved, db.StatusDeclined, db.StatusBanned)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
