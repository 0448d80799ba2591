package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/iamwavecut/joinbot/internal/db"
)

func newTestClient(t *testing.T) *sqliteClient {
	t.Helper()
	client, err := NewSQLiteClient(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("cant create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestMigrationsApplyCleanly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client, err := NewSQLiteClient(context.Background(), dir, "test.db")
	if err != nil {
		t.Fatalf("cant create client: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening the same file must find nothing left to apply.
	client, err = NewSQLiteClient(context.Background(), dir, "test.db")
	if err != nil {
		t.Fatalf("cant reopen client: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close after reopen: %v", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	got, err := client.GetRequest(ctx, -100, 1)
	if err != nil {
		t.Fatalf("get on empty db: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing request, got %+v", got)
	}

	due := time.Now().Add(time.Hour).UTC()
	req := &db.JoinRequest{
		ChatID:       -100,
		UserID:       1,
		FirstName:    "Alice",
		Username:     "alice",
		Status:       db.StatusPendingConfirmation,
		ConfirmToken: "token-1",
		RequestedAt:  time.Now().UTC(),
		ConfirmDue:   &due,
	}
	if err := client.UpsertRequest(ctx, req); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err = client.GetRequest(ctx, -100, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored request")
	}
	if got.Status != db.StatusPendingConfirmation || got.ConfirmToken != "token-1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ConfirmDue == nil {
		t.Fatal("expected confirm_due to round-trip")
	}
	if got.DecidedAt != nil {
		t.Fatalf("decided_at must stay null, got %v", got.DecidedAt)
	}

	decidedAt := time.Now().UTC()
	req.Status = db.StatusApproved
	req.DecidedAt = &decidedAt
	req.DecidedBy = db.ActorSystem
	if err := client.UpsertRequest(ctx, req); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	got, err = client.GetRequest(ctx, -100, 1)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != db.StatusApproved || got.DecidedBy != db.ActorSystem {
		t.Fatalf("conflict update did not apply: %+v", got)
	}
}

func TestListRequestsFilters(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []struct {
		userID int64
		status db.Status
		age    time.Duration
	}{
		{1, db.StatusPendingConfirmation, time.Hour},
		{2, db.StatusApproved, 2 * time.Hour},
		{3, db.StatusApproved, 48 * time.Hour},
		{4, db.StatusDeclined, time.Minute},
	}
	for _, s := range seed {
		req := &db.JoinRequest{
			ChatID:       -100,
			UserID:       s.userID,
			Status:       s.status,
			ConfirmToken: "t",
			RequestedAt:  now.Add(-s.age),
		}
		if err := client.UpsertRequest(ctx, req); err != nil {
			t.Fatalf("seed %d: %v", s.userID, err)
		}
	}

	all, err := client.ListRequests(ctx, db.RequestFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(all))
	}
	if all[0].UserID != 4 {
		t.Fatalf("expected newest-first ordering, got user %d first", all[0].UserID)
	}

	approved, err := client.ListRequests(ctx, db.RequestFilter{Statuses: []db.Status{db.StatusApproved}})
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if len(approved) != 2 {
		t.Fatalf("expected 2 approved rows, got %d", len(approved))
	}

	recent, err := client.ListRequests(ctx, db.RequestFilter{Since: now.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 rows within window, got %d", len(recent))
	}

	limited, err := client.ListRequests(ctx, db.RequestFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}

func TestGetExpiredRequests(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	rows := []*db.JoinRequest{
		{ChatID: -100, UserID: 1, Status: db.StatusPendingConfirmation, ConfirmToken: "a", RequestedAt: now, ConfirmDue: &past},
		{ChatID: -100, UserID: 2, Status: db.StatusPendingConfirmation, ConfirmToken: "b", RequestedAt: now, ConfirmDue: &future},
		{ChatID: -100, UserID: 3, Status: db.StatusPendingConfirmation, ConfirmToken: "c", RequestedAt: now},
		{ChatID: -100, UserID: 4, Status: db.StatusDeclined, ConfirmToken: "d", RequestedAt: now, ConfirmDue: &past},
	}
	for _, req := range rows {
		if err := client.UpsertRequest(ctx, req); err != nil {
			t.Fatalf("seed %d: %v", req.UserID, err)
		}
	}

	expired, err := client.GetExpiredRequests(ctx, now)
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if len(expired) != 1 || expired[0].UserID != 1 {
		t.Fatalf("expected only the overdue pending row, got %+v", expired)
	}
}

func TestPurgeKeepsOpenRequests(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-72 * time.Hour)

	rows := []*db.JoinRequest{
		{ChatID: -100, UserID: 1, Status: db.StatusApproved, ConfirmToken: "a", RequestedAt: old},
		{ChatID: -100, UserID: 2, Status: db.StatusDeclined, ConfirmToken: "b", RequestedAt: old},
		{ChatID: -100, UserID: 3, Status: db.StatusPendingConfirmation, ConfirmToken: "c", RequestedAt: old},
		{ChatID: -100, UserID: 4, Status: db.StatusAwaitingAdmin, ConfirmToken: "d", RequestedAt: old},
		{ChatID: -100, UserID: 5, Status: db.StatusBanned, ConfirmToken: "e", RequestedAt: now},
	}
	for _, req := range rows {
		if err := client.UpsertRequest(ctx, req); err != nil {
			t.Fatalf("seed %d: %v", req.UserID, err)
		}
	}

	removed, err := client.PurgeRequestsOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 purged rows, got %d", removed)
	}

	for _, userID := range []int64{3, 4, 5} {
		req, err := client.GetRequest(ctx, -100, userID)
		if err != nil {
			t.Fatalf("get %d: %v", userID, err)
		}
		if req == nil {
			t.Fatalf("row %d must survive the purge", userID)
		}
	}
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	got, err := client.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get on empty db: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing user, got %+v", got)
	}

	firstSeen := time.Now().Add(-time.Hour).UTC()
	user := &db.UserRecord{UserID: 1, FirstSeenAt: firstSeen, LastActionAt: firstSeen}
	if err := client.UpsertUser(ctx, user); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	user.FirstSeenAt = time.Now().UTC()
	user.ApprovedCount = 1
	user.Banned = true
	if err := client.UpsertUser(ctx, user); err != nil {
		t.Fatalf("upsert update: %v", err)
	}

	got, err = client.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ApprovedCount != 1 || !got.Banned {
		t.Fatalf("conflict update did not apply: %+v", got)
	}
	if got.FirstSeenAt.Unix() != firstSeen.Unix() {
		t.Fatalf("first_seen_at must never change on upsert: %v != %v", got.FirstSeenAt, firstSeen)
	}
}

func TestKVRoundTrip(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	value, err := client.GetKV(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value for missing key, got %q", value)
	}

	if err := client.SetKV(ctx, "last_cleanup_run", "2026-08-29T00:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := client.SetKV(ctx, "last_cleanup_run", "2026-08-30T00:00:00Z"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, err = client.GetKV(ctx, "last_cleanup_run")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "2026-08-30T00:00:00Z" {
		t.Fatalf("expected overwritten value, got %q", value)
	}
}

func TestKVTimeRoundTrip(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	when, err := client.GetKVTime(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if !when.IsZero() {
		t.Fatalf("expected zero time for missing key, got %v", when)
	}

	mark := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)
	if err := client.SetKVTime(ctx, "last_cleanup_run", mark); err != nil {
		t.Fatalf("set: %v", err)
	}
	when, err = client.GetKVTime(ctx, "last_cleanup_run")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !when.Equal(mark) {
		t.Fatalf("round trip lost precision: %v != %v", when, mark)
	}

	if err := client.SetKV(ctx, "last_cleanup_run", "not a timestamp"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := client.GetKVTime(ctx, "last_cleanup_run"); err == nil {
		t.Fatal("expected parse error for a malformed marker")
	}
}
