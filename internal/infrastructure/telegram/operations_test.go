package telegram

import (
	"context"
	"errors"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/joinbot/internal/flow"
)

type fakeRequester struct {
	requestCalls int
	sendCalls    int
	errs         []error
}

func (f *fakeRequester) next() error {
	calls := f.requestCalls + f.sendCalls
	if calls <= len(f.errs) {
		return f.errs[calls-1]
	}
	return nil
}

func (f *fakeRequester) Request(c api.Chattable) (*api.APIResponse, error) {
	f.requestCalls++
	return &api.APIResponse{Ok: true}, f.next()
}

func (f *fakeRequester) Send(c api.Chattable) (api.Message, error) {
	f.sendCalls++
	return api.Message{MessageID: 42}, f.next()
}

func newTestOperations(f *fakeRequester) *Operations {
	return &Operations{bot: f, logger: log.WithField("object", "Operations")}
}

func TestIsDefinitiveClassification(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name       string
		err        error
		definitive bool
	}{
		{"rate limit", &api.Error{Code: 429, Message: "Too Many Requests"}, false},
		{"server error", &api.Error{Code: 502, Message: "Bad Gateway"}, false},
		{"bad request", &api.Error{Code: 400, Message: "Bad Request: user_id_invalid"}, true},
		{"forbidden", &api.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, true},
		{"rights revoked", errors.New("Bad Request: not enough rights to manage chat"), true},
		{"stale request", errors.New("Bad Request: HIDE_REQUESTER_MISSING"), true},
		{"transport", errors.New("dial tcp: connection refused"), false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isDefinitive(tc.err); got != tc.definitive {
				t.Fatalf("isDefinitive(%v) = %v, want %v", tc.err, got, tc.definitive)
			}
		})
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{errs: []error{
		&api.Error{Code: 500, Message: "Internal Server Error"},
		&api.Error{Code: 500, Message: "Internal Server Error"},
		nil,
	}}
	ops := newTestOperations(fake)

	if err := ops.ApproveJoinRequest(context.Background(), -100, 1); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if fake.requestCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.requestCalls)
	}
}

func TestNoRetryOnDefinitiveFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{errs: []error{
		&api.Error{Code: 403, Message: "Forbidden: bot was kicked"},
	}}
	ops := newTestOperations(fake)

	err := ops.DeclineJoinRequest(context.Background(), -100, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.requestCalls != 1 {
		t.Fatalf("definitive failures must not be retried, got %d attempts", fake.requestCalls)
	}

	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected *ActionError, got %T", err)
	}
	if !actionErr.Definitive() {
		t.Fatal("expected definitive classification")
	}
}

func TestExhaustedRetriesReturnLastError(t *testing.T) {
	t.Parallel()

	transient := &api.Error{Code: 429, Message: "Too Many Requests"}
	fake := &fakeRequester{errs: []error{transient, transient, transient}}
	ops := newTestOperations(fake)

	err := ops.BanUser(context.Background(), -100, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.requestCalls != 3 {
		t.Fatalf("expected all attempts spent, got %d", fake.requestCalls)
	}

	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected *ActionError, got %T", err)
	}
	if actionErr.Definitive() {
		t.Fatal("exhausted transient retries are not definitive")
	}
	if !errors.Is(err, transient) {
		t.Fatalf("expected the last attempt error to be wrapped, got %v", err)
	}
}

func TestSendMessageReturnsMessageID(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{}
	ops := newTestOperations(fake)

	msgID, err := ops.SendMessage(context.Background(), 1, "hi", [][]flow.Button{
		{{Text: "Yes", Data: "cfm;token"}},
		{{Text: "Open", URL: "https://t.me/example"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgID != 42 {
		t.Fatalf("expected message id 42, got %d", msgID)
	}
	if fake.sendCalls != 1 {
		t.Fatalf("expected one send, got %d", fake.sendCalls)
	}
}

func TestCancelledContextShortCircuits(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeRequester{}
	ops := newTestOperations(fake)

	if err := ops.ApproveJoinRequest(ctx, -100, 1); err == nil {
		t.Fatal("expected context error")
	}
	if fake.requestCalls != 0 {
		t.Fatalf("no attempts expected on cancelled context, got %d", fake.requestCalls)
	}
}

func TestKeyboardLayout(t *testing.T) {
	t.Parallel()

	kb := toInlineKeyboard([][]flow.Button{
		{{Text: "Confirm", Data: "cfm;x"}, {Text: "Decline", Data: "dcl;x"}},
		{{Text: "Adapter", URL: "https://t.me/adapter"}},
	})
	if kb == nil {
		t.Fatal("expected keyboard")
	}
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(kb.InlineKeyboard))
	}
	if len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("expected 2 buttons in the first row, got %d", len(kb.InlineKeyboard[0]))
	}
	data := kb.InlineKeyboard[0][0]
	if data.CallbackData == nil || *data.CallbackData != "cfm;x" {
		t.Fatalf("unexpected callback data: %+v", data)
	}
	link := kb.InlineKeyboard[1][0]
	if link.URL == nil || *link.URL != "https://t.me/adapter" {
		t.Fatalf("unexpected url button: %+v", link)
	}

	if toInlineKeyboard(nil) != nil {
		t.Fatal("empty layout must yield nil keyboard")
	}
}

func TestActionErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &ActionError{Action: "send message", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to expose the inner error")
	}
	if err.Error() == "" {
		t.Fatal("expected a formatted message")
	}
}
