package db

import (
	"context"
	"time"
)

type Client interface {
	Close() error

	UpsertRequest(ctx context.Context, req *JoinRequest) error
	GetRequest(ctx context.Context, chatID, userID int64) (*JoinRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*JoinRequest, error)
	GetExpiredRequests(ctx context.Context, now time.Time) ([]*JoinRequest, error)
	PurgeRequestsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertUser(ctx context.Context, user *UserRecord) error
	GetUser(ctx context.Context, userID int64) (*UserRecord, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	GetKVTime(ctx context.Context, key string) (time.Time, error)
	SetKVTime(ctx context.Context, key string, t time.Time) error
}
