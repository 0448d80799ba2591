package handlers

import (
	"context"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/joinbot/internal/bot"
	"github.com/iamwavecut/joinbot/internal/config"
	apperrors "github.com/iamwavecut/joinbot/internal/errors"
	"github.com/iamwavecut/joinbot/internal/flow"
)

const (
	callbackConfirm = "cfm"
	callbackDecline = "dcl"

	expireOverdueInterval = 1 * time.Minute

	updateTypeCallbackQuery   updateType = "callback_query"
	updateTypeChatJoinRequest updateType = "chat_join_request"
	updateTypeIgnore          updateType = "ignore"
)

type updateType string

type callbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Requests routes join-request events and confirmation callbacks into the
// state machine, and expires overdue confirmations on a ticker.
type Requests struct {
	s        bot.Service
	machine  *flow.Machine
	answerer callbackAnswerer
	cfg      config.Config

	logger         *log.Entry
	workerCancel   context.CancelFunc
	workerWG       sync.WaitGroup
	startStopMutex sync.Mutex
	started        bool
}

func NewRequests(s bot.Service, machine *flow.Machine, answerer callbackAnswerer, cfg config.Config) *Requests {
	return &Requests{
		s:        s,
		machine:  machine,
		answerer: answerer,
		cfg:      cfg,
	}
}

func (r *Requests) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	entry := r.getLogEntry()

	if user == nil {
		entry.Debug("missing user information")
		return true, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	switch r.determineUpdateType(u) {
	case updateTypeChatJoinRequest:
		if u.ChatJoinRequest.Chat.ID != r.cfg.Channel.ID {
			entry.WithField("chat_id", u.ChatJoinRequest.Chat.ID).Warn("join request for unknown channel")
			return true, nil
		}
		return false, r.handleJoinRequest(ctx, u.ChatJoinRequest)
	case updateTypeCallbackQuery:
		if !isConfirmationCallbackData(u.CallbackQuery.Data) {
			return true, nil
		}
		return false, r.handleConfirmationCallback(ctx, u.CallbackQuery, user)
	default:
		return true, nil
	}
}

func (r *Requests) handleJoinRequest(ctx context.Context, jr *api.ChatJoinRequest) error {
	entry := r.getLogEntry().WithFields(log.Fields{
		"method":  "handleJoinRequest",
		"chat_id": jr.Chat.ID,
		"user_id": jr.From.ID,
		"user":    bot.GetUN(&jr.From),
	})

	meta := flow.UserMeta{
		FirstName: jr.From.FirstName,
		LastName:  jr.From.LastName,
		Username:  jr.From.UserName,
	}
	_, err := r.machine.Create(ctx, jr.Chat.ID, jr.From.ID, meta)
	switch {
	case err == nil:
		entry.Info("new join request registered")
		return nil
	case errors.Is(err, apperrors.ErrAlreadyPending):
		// Redelivered event, the prompt is already out.
		entry.Debug("request already pending, ignoring redelivery")
		return nil
	case errors.Is(err, apperrors.ErrUserBanned):
		entry.Info("banned user attempted to join")
		return nil
	default:
		return errors.WithMessage(err, "cant create join request")
	}
}

func (r *Requests) handleConfirmationCallback(ctx context.Context, cq *api.CallbackQuery, user *api.User) error {
	entry := r.getLogEntry().WithFields(log.Fields{
		"method":  "handleConfirmationCallback",
		"user_id": user.ID,
		"data":    cq.Data,
	})

	action, token, ok := parseConfirmationCallbackData(cq.Data)
	if !ok {
		entry.Warn("malformed confirmation callback")
		return nil
	}

	req, err := r.s.GetDB().GetRequest(ctx, r.cfg.Channel.ID, user.ID)
	if err != nil {
		return errors.WithMessage(err, "cant get request")
	}
	if req == nil || req.ConfirmToken != token {
		r.answer(ctx, entry, cq.ID, "This confirmation isn't yours to answer", true)
		return nil
	}

	switch action {
	case callbackConfirm:
		err = r.machine.Confirm(ctx, req.ChatID, req.UserID)
	case callbackDecline:
		err = r.machine.Decline(ctx, req.ChatID, req.UserID)
	}

	switch {
	case err == nil:
		r.answer(ctx, entry, cq.ID, "Thanks, your answer is recorded", false)
		return nil
	case errors.Is(err, apperrors.ErrAlreadyTerminal), errors.Is(err, apperrors.ErrInvalidTransition):
		// Redelivered or repeated tap, no new platform action was issued.
		entry.WithField("error", err.Error()).Debug("stale confirmation callback")
		r.answer(ctx, entry, cq.ID, "This request is already resolved", true)
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		r.answer(ctx, entry, cq.ID, "Request not found", true)
		return nil
	default:
		r.answer(ctx, entry, cq.ID, "Something went wrong, try again later", true)
		return errors.WithMessage(err, "cant process confirmation")
	}
}

func (r *Requests) answer(ctx context.Context, entry *log.Entry, callbackID, text string, alert bool) {
	if err := r.answerer.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		entry.WithField("error", err.Error()).Warn("cant answer callback query")
	}
}

func (r *Requests) determineUpdateType(u *api.Update) updateType {
	if u == nil {
		return updateTypeIgnore
	}
	if u.CallbackQuery != nil {
		return updateTypeCallbackQuery
	}
	if u.ChatJoinRequest != nil {
		return updateTypeChatJoinRequest
	}
	return updateTypeIgnore
}

func isConfirmationCallbackData(data string) bool {
	_, _, ok := parseConfirmationCallbackData(data)
	return ok
}

func parseConfirmationCallbackData(data string) (action, token string, ok bool) {
	parts := strings.Split(data, ";")
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	if parts[0] != callbackConfirm && parts[0] != callbackDecline {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (r *Requests) getLogEntry() *log.Entry {
	if r.logger == nil {
		r.logger = log.WithField("handler", "requests")
	}
	return r.logger
}
