package handlers

import (
	"context"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/joinbot/internal/bot"
	"github.com/iamwavecut/joinbot/internal/config"
	apperrors "github.com/iamwavecut/joinbot/internal/errors"
	"github.com/iamwavecut/joinbot/internal/flow"
	"github.com/iamwavecut/joinbot/internal/notify"
	"github.com/iamwavecut/joinbot/internal/templates"
)

type cleanupRunner interface {
	Run(ctx context.Context) (int64, error)
}

type platform interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]flow.Button) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Admin serves the text-command surface and the inline approve/decline/ban
// actions attached to admin notifications.
type Admin struct {
	s        bot.Service
	machine  *flow.Machine
	platform platform
	cleanup  cleanupRunner
	cfg      config.Config

	logger *log.Entry
}

func NewAdmin(s bot.Service, machine *flow.Machine, platform platform, cleanup cleanupRunner, cfg config.Config) *Admin {
	return &Admin{
		s:        s,
		machine:  machine,
		platform: platform,
		cleanup:  cleanup,
		cfg:      cfg,
	}
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	if user == nil {
		return true, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	if u.CallbackQuery != nil && strings.HasPrefix(u.CallbackQuery.Data, "adm;") {
		return false, a.handleAction(ctx, u.CallbackQuery, user)
	}
	if u.Message != nil && u.Message.IsCommand() {
		cmd, ok := parseCommand(u.Message.Command())
		if !ok {
			return true, nil
		}
		return false, a.handleCommand(ctx, cmd, u.Message, user)
	}
	return true, nil
}

func (a *Admin) handleAction(ctx context.Context, cq *api.CallbackQuery, user *api.User) error {
	entry := a.getLogEntry().WithFields(log.Fields{
		"method":   "handleAction",
		"admin_id": user.ID,
		"data":     cq.Data,
	})

	if !a.cfg.IsAdmin(user.ID) {
		entry.Warn("unauthorized admin action")
		a.answer(ctx, entry, cq.ID, templates.Render("unauthorized", nil), true)
		return apperrors.ErrUnauthorized
	}

	action, chatID, userID, ok := parseActionCallbackData(cq.Data)
	if !ok {
		entry.Warn("malformed admin callback")
		a.answer(ctx, entry, cq.ID, "Malformed action", true)
		return nil
	}

	if action == notify.CallbackView {
		return a.viewRequest(ctx, entry, cq, user.ID, chatID, userID)
	}

	var err error
	var confirmation string
	switch action {
	case notify.CallbackApprove:
		err = a.machine.AdminApprove(ctx, chatID, userID, user.ID)
		confirmation = "✅ Approved"
	case notify.CallbackDecline:
		err = a.machine.AdminDecline(ctx, chatID, userID, user.ID)
		confirmation = "❌ Declined"
	case notify.CallbackBan:
		err = a.machine.AdminBan(ctx, chatID, userID, user.ID)
		confirmation = "⛔ Banned"
	}

	switch {
	case err == nil:
		a.answer(ctx, entry, cq.ID, confirmation, false)
		return nil
	case errors.Is(err, apperrors.ErrAlreadyTerminal):
		// Repeated tap after the decision landed; platform action is not
		// safely repeatable, so nothing is re-issued.
		a.answer(ctx, entry, cq.ID, "Already resolved", true)
		return nil
	case errors.Is(err, apperrors.ErrInvalidTransition):
		a.answer(ctx, entry, cq.ID, "Still waiting for the user to confirm", true)
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		a.answer(ctx, entry, cq.ID, "Request not found", true)
		return nil
	default:
		a.answer(ctx, entry, cq.ID, "Action failed, see logs", true)
		return errors.WithMessage(err, "cant perform admin action")
	}
}

// viewRequest replies to the acting admin with the stored request
// details. Read-only, valid for any request state.
func (a *Admin) viewRequest(ctx context.Context, entry *log.Entry, cq *api.CallbackQuery, adminID, chatID, userID int64) error {
	req, err := a.s.GetDB().GetRequest(ctx, chatID, userID)
	if err != nil {
		a.answer(ctx, entry, cq.ID, "Action failed, see logs", true)
		return errors.WithMessage(err, "cant get request")
	}
	if req == nil {
		a.answer(ctx, entry, cq.ID, "Request not found", true)
		return nil
	}

	username := req.Username
	if username == "" {
		username = "no username"
	}
	vars := templates.Vars{
		"user":         req.DisplayName(),
		"username":     username,
		"user_id":      strconv.FormatInt(req.UserID, 10),
		"status":       string(req.Status),
		"requested_at": req.RequestedAt.Format("2006-01-02 15:04:05"),
		"decided_by":   req.DecidedBy,
	}
	a.reply(ctx, entry, adminID, templates.Render("admin_view", vars))
	a.answer(ctx, entry, cq.ID, "", false)
	return nil
}

func (a *Admin) answer(ctx context.Context, entry *log.Entry, callbackID, text string, alert bool) {
	if err := a.platform.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		entry.WithField("error", err.Error()).Warn("cant answer callback query")
	}
}

func parseActionCallbackData(data string) (action string, chatID, userID int64, ok bool) {
	parts := strings.Split(data, ";")
	if len(parts) != 4 {
		return "", 0, 0, false
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	userID, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	action = parts[0] + ";" + parts[1]
	switch action {
	case notify.CallbackApprove, notify.CallbackDecline, notify.CallbackBan, notify.CallbackView:
		return action, chatID, userID, true
	}
	return "", 0, 0, false
}

func (a *Admin) getLogEntry() *log.Entry {
	if a.logger == nil {
		a.logger = log.WithField("handler", "admin")
	}
	return a.logger
}
