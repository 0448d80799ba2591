package flow

import (
	"context"
	"time"

	"github.com/iamwavecut/joinbot/internal/db"
)

// Button is a platform-agnostic inline button. Data and URL are mutually
// exclusive.
type Button struct {
	Text string
	Data string
	URL  string
}

// Platform issues outbound actions against the messaging platform. Calls
// are expected to have bounded timeouts and retry transient failures only.
type Platform interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]Button) (messageID int, err error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]Button) error
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
	BanUser(ctx context.Context, chatID, userID int64) error
}

// Notifier fans transition events out to admins, best-effort.
type Notifier interface {
	NotifyNewRequest(ctx context.Context, req *db.JoinRequest)
	NotifyConfirmed(ctx context.Context, req *db.JoinRequest)
	NotifyDecision(ctx context.Context, req *db.JoinRequest)
}

type machineStore interface {
	UpsertRequest(ctx context.Context, req *db.JoinRequest) error
	GetRequest(ctx context.Context, chatID, userID int64) (*db.JoinRequest, error)
	GetExpiredRequests(ctx context.Context, now time.Time) ([]*db.JoinRequest, error)
	UpsertUser(ctx context.Context, user *db.UserRecord) error
	GetUser(ctx context.Context, userID int64) (*db.UserRecord, error)
}

// definitive is implemented by platform errors that must never be retried.
type definitive interface {
	Definitive() bool
}
