package stats

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/iamwavecut/joinbot/internal/db"
)

type store interface {
	ListRequests(ctx context.Context, filter db.RequestFilter) ([]*db.JoinRequest, error)
}

// Report is a point-in-time aggregation over the request store.
type Report struct {
	Total         int
	Pending       int
	AwaitingAdmin int
	Approved      int
	Declined      int
	Banned        int
	WithinWindow  int
	RecentUsers   []*db.JoinRequest
}

// Compute derives counts and the top-N most recent requests. Pure reads,
// no mutation.
func Compute(ctx context.Context, s store, window time.Duration, topN int) (*Report, error) {
	requests, err := s.ListRequests(ctx, db.RequestFilter{})
	if err != nil {
		return nil, errors.WithMessage(err, "cant list requests")
	}

	report := &Report{Total: len(requests)}
	windowStart := time.Now().Add(-window)
	for _, req := range requests {
		switch req.Status {
		case db.StatusPendingConfirmation:
			report.Pending++
		case db.StatusAwaitingAdmin:
			report.AwaitingAdmin++
		case db.StatusApproved:
			report.Approved++
		case db.StatusDeclined:
			report.Declined++
		case db.StatusBanned:
			report.Banned++
		}
		if window > 0 && req.RequestedAt.After(windowStart) {
			report.WithinWindow++
		}
	}

	// ListRequests orders newest first.
	if topN > 0 && topN < len(requests) {
		report.RecentUsers = requests[:topN]
	} else {
		report.RecentUsers = requests
	}
	return report, nil
}
