package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/joinbot/internal/flow"
	"github.com/iamwavecut/joinbot/internal/observability"
)

const (
	actionMaxAttempts = 3
	actionRetryStep   = 300 * time.Millisecond
	actionTimeout     = 10 * time.Second
)

// ActionError is a failed platform action. Definitive errors (permission
// revoked, malformed request, user gone) must never be retried.
type ActionError struct {
	Action     string
	Err        error
	definitive bool
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Definitive() bool { return e.definitive }

type requester interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
}

// Operations adapts the bot API to the abstract platform actions, with
// bounded timeouts and retries for transient failures only.
type Operations struct {
	bot    requester
	logger *log.Entry
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot, logger: log.WithField("object", "Operations")}
}

func (o *Operations) SendMessage(ctx context.Context, chatID int64, text string, buttons [][]flow.Button) (int, error) {
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = api.ModeMarkdown
	if kb := toInlineKeyboard(buttons); kb != nil {
		msg.ReplyMarkup = kb
	}

	var sent api.Message
	err := o.withRetries(ctx, "send message", func() error {
		var err error
		sent, err = o.bot.Send(msg)
		return err
	})
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (o *Operations) EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]flow.Button) error {
	edit := api.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = api.ModeMarkdown
	if kb := toInlineKeyboard(buttons); kb != nil {
		edit.ReplyMarkup = kb
	}
	return o.withRetries(ctx, "edit message", func() error {
		_, err := o.bot.Request(edit)
		return err
	})
}

func (o *Operations) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	return o.withRetries(ctx, "approve join request", func() error {
		_, err := o.bot.Request(api.ApproveChatJoinRequestConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		})
		return err
	})
}

func (o *Operations) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	return o.withRetries(ctx, "decline join request", func() error {
		_, err := o.bot.Request(api.DeclineChatJoinRequest{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		})
		return err
	})
}

func (o *Operations) BanUser(ctx context.Context, chatID, userID int64) error {
	return o.withRetries(ctx, "ban user", func() error {
		_, err := o.bot.Request(api.BanChatMemberConfig{
			ChatMemberConfig: api.ChatMemberConfig{
				ChatConfig: api.ChatConfig{ChatID: chatID},
				UserID:     userID,
			},
			RevokeMessages: true,
		})
		return err
	})
}

// AnswerCallback acknowledges a callback query, optionally with an alert.
func (o *Operations) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cb := api.NewCallback(callbackID, text)
	if alert {
		cb = api.NewCallbackWithAlert(callbackID, text)
	}
	return o.withRetries(ctx, "answer callback", func() error {
		_, err := o.bot.Request(cb)
		return err
	})
}

func (o *Operations) withRetries(ctx context.Context, action string, call func() error) error {
	runCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= actionMaxAttempts; attempt++ {
		select {
		case <-runCtx.Done():
			return &ActionError{Action: action, Err: runCtx.Err()}
		default:
		}

		lastErr = call()
		if lastErr == nil {
			observability.RecordPlatformAction(action, "ok")
			return nil
		}
		if isDefinitive(lastErr) {
			observability.RecordPlatformAction(action, "definitive")
			return &ActionError{Action: action, Err: lastErr, definitive: true}
		}
		o.logger.WithFields(log.Fields{
			"action":  action,
			"attempt": attempt,
			"error":   lastErr.Error(),
		}).Warn("transient platform failure")

		select {
		case <-runCtx.Done():
			return &ActionError{Action: action, Err: runCtx.Err()}
		case <-time.After(time.Duration(attempt) * actionRetryStep):
		}
	}
	observability.RecordPlatformAction(action, "transient_exhausted")
	return &ActionError{Action: action, Err: lastErr}
}

// isDefinitive classifies an API failure. Rate limits, server errors and
// transport problems are worth retrying; everything the platform rejects
// outright is not.
func isDefinitive(err error) bool {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return false
		case apiErr.Code >= 500:
			return false
		default:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"forbidden", "not enough rights", "chat not found", "user_id_invalid", "hide_requester_missing"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func toInlineKeyboard(buttons [][]flow.Button) *api.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]api.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		btns := make([]api.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			switch {
			case b.URL != "":
				btns = append(btns, api.NewInlineKeyboardButtonURL(b.Text, b.URL))
			default:
				btns = append(btns, api.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		rows = append(rows, api.NewInlineKeyboardRow(btns...))
	}
	markup := api.NewInlineKeyboardMarkup(rows...)
	return &markup
}
