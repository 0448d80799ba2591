package db

import (
	"time"
)

// Status is the lifecycle state of a join request. Approved, declined and
// banned are terminal.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusAwaitingAdmin       Status = "awaiting_admin"
	StatusApproved            Status = "approved"
	StatusDeclined            Status = "declined"
	StatusBanned              Status = "banned"
)

// Decision actors for transitions not triggered by an admin.
const (
	ActorSystem        = "system"
	ActorSystemTimeout = "system-timeout"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusBanned:
		return true
	}
	return false
}

type (
	// JoinRequest tracks a single (chat, user) membership request. At most
	// one non-terminal row exists per pair at any time.
	JoinRequest struct {
		ChatID        int64      `db:"chat_id"`
		UserID        int64      `db:"user_id"`
		FirstName     string     `db:"first_name"`
		LastName      string     `db:"last_name"`
		Username      string     `db:"username"`
		Status        Status     `db:"status"`
		ConfirmToken  string     `db:"confirm_token"`
		PromptMsgID   int        `db:"prompt_msg_id"`
		RequestedAt   time.Time  `db:"requested_at"`
		ConfirmDue    *time.Time `db:"confirm_due"`
		DecidedAt     *time.Time `db:"decided_at"`
		DecidedBy     string     `db:"decided_by"`
	}

	// UserRecord is never auto-deleted, so ban and audit history survive
	// request purges.
	UserRecord struct {
		UserID        int64     `db:"user_id"`
		FirstSeenAt   time.Time `db:"first_seen_at"`
		LastActionAt  time.Time `db:"last_action_at"`
		ApprovedCount int       `db:"approved_count"`
		DeclinedCount int       `db:"declined_count"`
		BannedCount   int       `db:"banned_count"`
		Banned        bool      `db:"banned"`
	}

	// RequestFilter narrows ListRequests. Zero values match everything.
	RequestFilter struct {
		Statuses []Status
		Since    time.Time
		Limit    int
	}
)

// DisplayName prefers the full name, falling back to the username.
func (r *JoinRequest) DisplayName() string {
	name := r.FirstName
	if r.LastName != "" {
		if name != "" {
			name += " "
		}
		name += r.LastName
	}
	if name == "" {
		name = r.Username
	}
	return name
}
