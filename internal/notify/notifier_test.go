package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/iamwavecut/joinbot/internal/db"
	"github.com/iamwavecut/joinbot/internal/flow"
)

type fakeSender struct {
	mu       sync.Mutex
	chatIDs  []int64
	keyboard [][]flow.Button
	failFor  map[int64]error
}

func (s *fakeSender) SendMessage(ctx context.Context, chatID int64, text string, buttons [][]flow.Button) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[chatID]; ok {
		return 0, err
	}
	s.chatIDs = append(s.chatIDs, chatID)
	s.keyboard = buttons
	return 1, nil
}

func (s *fakeSender) sortedChatIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int64(nil), s.chatIDs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestNotifyNewRequestReachesAllAdmins(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := NewAdminNotifier(sender, []int64{10, 20, 30})

	n.NotifyNewRequest(context.Background(), &db.JoinRequest{ChatID: -100, UserID: 1, FirstName: "Alice"})

	got := sender.sortedChatIDs()
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("expected all admins notified, got %v", got)
	}
	if len(sender.keyboard) != 2 {
		t.Fatalf("expected action keyboard rows, got %d", len(sender.keyboard))
	}
}

func TestBroadcastSurvivesPerAdminFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{failFor: map[int64]error{20: errors.New("blocked")}}
	n := NewAdminNotifier(sender, []int64{10, 20, 30})

	n.NotifyConfirmed(context.Background(), &db.JoinRequest{ChatID: -100, UserID: 1})

	got := sender.sortedChatIDs()
	if len(got) != 2 || got[0] != 10 || got[1] != 30 {
		t.Fatalf("expected delivery to the remaining admins, got %v", got)
	}
}

func TestNotifyDecisionHasNoKeyboard(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := NewAdminNotifier(sender, []int64{10})

	n.NotifyDecision(context.Background(), &db.JoinRequest{ChatID: -100, UserID: 1, Status: db.StatusApproved, DecidedBy: "55"})

	if len(sender.sortedChatIDs()) != 1 {
		t.Fatal("expected one delivery")
	}
	if sender.keyboard != nil {
		t.Fatalf("decision notices carry no actions, got %v", sender.keyboard)
	}
}

func TestActionKeyboardEncodesRequestPair(t *testing.T) {
	t.Parallel()

	kb := actionKeyboard(&db.JoinRequest{ChatID: -100, UserID: 42})
	if len(kb) != 2 || len(kb[0]) != 2 || len(kb[1]) != 2 {
		t.Fatalf("unexpected layout: %v", kb)
	}
	if kb[0][0].Data != "adm;approve;-100;42" {
		t.Fatalf("approve data = %q", kb[0][0].Data)
	}
	if kb[0][1].Data != "adm;decline;-100;42" {
		t.Fatalf("decline data = %q", kb[0][1].Data)
	}
	if kb[1][0].Data != "adm;ban;-100;42" {
		t.Fatalf("ban data = %q", kb[1][0].Data)
	}
	if kb[1][1].Data != "adm;view;-100;42" {
		t.Fatalf("view data = %q", kb[1][1].Data)
	}
}
