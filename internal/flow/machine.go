package flow

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/joinbot/internal/config"
	"github.com/iamwavecut/joinbot/internal/db"
	apperrors "github.com/iamwavecut/joinbot/internal/errors"
	"github.com/iamwavecut/joinbot/internal/observability"
	"github.com/iamwavecut/joinbot/internal/templates"
)

// UserMeta carries requester display fields from the inbound event.
type UserMeta struct {
	FirstName string
	LastName  string
	Username  string
}

// Machine drives a join request through its confirmation lifecycle.
// Every transition re-reads the stored state first, so redelivered
// platform events are rejected instead of repeating side effects. A
// process-wide mutex serializes transitions (single-writer model).
type Machine struct {
	store    machineStore
	platform Platform
	notifier Notifier
	cfg      config.Config

	mutex  sync.Mutex
	now    func() time.Time
	logger *log.Entry
}

func NewMachine(store machineStore, platform Platform, notifier Notifier, cfg config.Config) *Machine {
	return &Machine{
		store:    store,
		platform: platform,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithField("object", "Machine"),
	}
}

// Create registers a new PENDING_CONFIRMATION request, sends the
// confirmation prompt and notifies admins. Prompt and notification are
// best-effort and never roll the state back.
func (m *Machine) Create(ctx context.Context, chatID, userID int64, meta UserMeta) (*db.JoinRequest, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "Create", "chat_id": chatID, "user_id": userID})

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, errors.WithMessage(err, "cant get user record")
	}
	if user != nil && user.Banned {
		if err := m.platform.DeclineJoinRequest(ctx, chatID, userID); err != nil {
			entry.WithField("error", err.Error()).Warn("cant decline request of banned user")
		}
		return nil, apperrors.ErrUserBanned
	}

	existing, err := m.store.GetRequest(ctx, chatID, userID)
	if err != nil {
		return nil, errors.WithMessage(err, "cant get request")
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return nil, apperrors.ErrAlreadyPending
	}

	now := m.now()
	req := &db.JoinRequest{
		ChatID:       chatID,
		UserID:       userID,
		FirstName:    meta.FirstName,
		LastName:     meta.LastName,
		Username:     meta.Username,
		Status:       db.StatusPendingConfirmation,
		ConfirmToken: uuid.New(),
		RequestedAt:  now,
	}
	if timeout := m.cfg.Settings.ConfirmTimeout; timeout > 0 {
		due := now.Add(timeout)
		req.ConfirmDue = &due
	}
	if err := m.store.UpsertRequest(ctx, req); err != nil {
		return nil, errors.WithMessage(err, "cant persist request")
	}

	if user == nil {
		user = &db.UserRecord{UserID: userID, FirstSeenAt: now, LastActionAt: now}
		if err := m.store.UpsertUser(ctx, user); err != nil {
			entry.WithField("error", err.Error()).Error("cant persist user record")
		}
	}

	msgID, err := m.platform.SendMessage(ctx, userID, m.renderPrompt(), m.promptButtons(req))
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant send confirmation prompt")
	} else {
		req.PromptMsgID = msgID
		if err := m.store.UpsertRequest(ctx, req); err != nil {
			entry.WithField("error", err.Error()).Error("cant persist prompt message id")
		}
	}

	if m.cfg.Settings.NotifyAdmins {
		m.notifier.NotifyNewRequest(ctx, req)
	}
	return req, nil
}

// Confirm handles the requester accepting the rules. With auto_approve it
// issues the platform approval directly, otherwise the request parks in
// AWAITING_ADMIN for a manual decision.
func (m *Machine) Confirm(ctx context.Context, chatID, userID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "Confirm", "chat_id": chatID, "user_id": userID})

	req, err := m.getOpenRequest(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if req.Status != db.StatusPendingConfirmation {
		return apperrors.ErrInvalidTransition
	}

	if !m.cfg.Settings.AutoApprove {
		req.Status = db.StatusAwaitingAdmin
		if err := m.store.UpsertRequest(ctx, req); err != nil {
			return errors.WithMessage(err, "cant persist request")
		}
		m.editPrompt(ctx, entry, req, templates.Render("awaiting", m.channelVars()), nil)
		if m.cfg.Settings.NotifyAdmins {
			m.notifier.NotifyConfirmed(ctx, req)
		}
		return nil
	}

	if err := m.platform.ApproveJoinRequest(ctx, chatID, userID); err != nil {
		return errors.WithMessage(err, "cant approve join request")
	}
	if err := m.applyDecision(ctx, req, db.StatusApproved, db.ActorSystem); err != nil {
		return err
	}
	m.editPrompt(ctx, entry, req, templates.Render("approved", m.channelVars()), m.adapterButtons())
	return nil
}

// Decline handles the requester rejecting the rules, from either
// PENDING_CONFIRMATION or AWAITING_ADMIN. With ban_on_decline the outcome
// is recorded as BANNED and the user is banned on the platform.
func (m *Machine) Decline(ctx context.Context, chatID, userID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "Decline", "chat_id": chatID, "user_id": userID})

	req, err := m.getOpenRequest(ctx, chatID, userID)
	if err != nil {
		return err
	}

	if err := m.platform.DeclineJoinRequest(ctx, chatID, userID); err != nil {
		return errors.WithMessage(err, "cant decline join request")
	}

	outcome := db.StatusDeclined
	messageKey := "declined"
	if m.cfg.Settings.BanOnDecline {
		outcome = db.StatusBanned
		messageKey = "banned"
		if err := m.platform.BanUser(ctx, chatID, userID); err != nil {
			entry.WithField("error", err.Error()).Error("cant ban user on decline")
		}
	}
	if err := m.applyDecision(ctx, req, outcome, db.ActorSystem); err != nil {
		return err
	}
	m.editPrompt(ctx, entry, req, templates.Render(messageKey, m.channelVars()), nil)
	return nil
}

// AdminApprove forces approval of a request awaiting manual decision.
func (m *Machine) AdminApprove(ctx context.Context, chatID, userID, adminID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "AdminApprove", "chat_id": chatID, "user_id": userID})

	req, err := m.getOpenRequest(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if req.Status != db.StatusAwaitingAdmin {
		return apperrors.ErrInvalidTransition
	}

	if err := m.platform.ApproveJoinRequest(ctx, chatID, userID); err != nil {
		return errors.WithMessage(err, "cant approve join request")
	}
	if err := m.applyDecision(ctx, req, db.StatusApproved, strconv.FormatInt(adminID, 10)); err != nil {
		return err
	}
	m.editPrompt(ctx, entry, req, templates.Render("approved", m.channelVars()), m.adapterButtons())
	return nil
}

// AdminDecline forces decline of a request awaiting manual decision.
func (m *Machine) AdminDecline(ctx context.Context, chatID, userID, adminID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "AdminDecline", "chat_id": chatID, "user_id": userID})

	req, err := m.getOpenRequest(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if req.Status != db.StatusAwaitingAdmin {
		return apperrors.ErrInvalidTransition
	}

	if err := m.platform.DeclineJoinRequest(ctx, chatID, userID); err != nil {
		return errors.WithMessage(err, "cant decline join request")
	}
	if err := m.applyDecision(ctx, req, db.StatusDeclined, strconv.FormatInt(adminID, 10)); err != nil {
		return err
	}
	m.editPrompt(ctx, entry, req, templates.Render("declined", m.channelVars()), nil)
	return nil
}

// AdminBan bans the requester from any non-terminal state.
func (m *Machine) AdminBan(ctx context.Context, chatID, userID, adminID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "AdminBan", "chat_id": chatID, "user_id": userID})

	req, err := m.getOpenRequest(ctx, chatID, userID)
	if err != nil {
		return err
	}

	if err := m.platform.DeclineJoinRequest(ctx, chatID, userID); err != nil {
		return errors.WithMessage(err, "cant decline join request")
	}
	if err := m.platform.BanUser(ctx, chatID, userID); err != nil {
		entry.WithField("error", err.Error()).Error("cant issue platform ban")
	}
	if err := m.applyDecision(ctx, req, db.StatusBanned, strconv.FormatInt(adminID, 10)); err != nil {
		return err
	}
	m.editPrompt(ctx, entry, req, templates.Render("banned", m.channelVars()), nil)
	return nil
}

// Expire declines a request whose confirmation deadline elapsed without a
// reply. A no-op for anything past PENDING_CONFIRMATION.
func (m *Machine) Expire(ctx context.Context, chatID, userID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.logger.WithFields(log.Fields{"method": "Expire", "chat_id": chatID, "user_id": userID})

	req, err := m.store.GetRequest(ctx, chatID, userID)
	if err != nil {
		return errors.WithMessage(err, "cant get request")
	}
	if req == nil || req.Status != db.StatusPendingConfirmation {
		return nil
	}

	if err := m.platform.DeclineJoinRequest(ctx, chatID, userID); err != nil {
		var d definitive
		if errors.As(err, &d) && d.Definitive() {
			// The platform no longer knows the request, nothing to retry.
			entry.WithField("error", err.Error()).Warn("decline rejected definitively, expiring anyway")
		} else {
			return errors.WithMessage(err, "cant decline join request")
		}
	}
	if err := m.applyDecision(ctx, req, db.StatusDeclined, db.ActorSystemTimeout); err != nil {
		return err
	}
	m.editPrompt(ctx, entry, req, templates.Render("declined", m.channelVars()), nil)
	return nil
}

// ExpireOverdue walks all requests past their confirmation deadline.
func (m *Machine) ExpireOverdue(ctx context.Context) error {
	overdue, err := m.store.GetExpiredRequests(ctx, m.now())
	if err != nil {
		return errors.WithMessage(err, "cant get expired requests")
	}
	for _, req := range overdue {
		if err := m.Expire(ctx, req.ChatID, req.UserID); err != nil {
			m.logger.WithFields(log.Fields{
				"chat_id": req.ChatID,
				"user_id": req.UserID,
				"error":   err.Error(),
			}).Error("cant expire request")
		}
	}
	return nil
}

func (m *Machine) getOpenRequest(ctx context.Context, chatID, userID int64) (*db.JoinRequest, error) {
	req, err := m.store.GetRequest(ctx, chatID, userID)
	if err != nil {
		return nil, errors.WithMessage(err, "cant get request")
	}
	if req == nil {
		return nil, apperrors.ErrNotFound
	}
	if req.Status.IsTerminal() {
		return nil, apperrors.ErrAlreadyTerminal
	}
	return req, nil
}

func (m *Machine) applyDecision(ctx context.Context, req *db.JoinRequest, outcome db.Status, actor string) error {
	now := m.now()
	req.Status = outcome
	req.DecidedAt = &now
	req.DecidedBy = actor
	if err := m.store.UpsertRequest(ctx, req); err != nil {
		return errors.WithMessage(err, "cant persist decision")
	}

	user, err := m.store.GetUser(ctx, req.UserID)
	if err != nil {
		m.logger.WithField("error", err.Error()).Error("cant get user record for decision")
		user = nil
	}
	if user == nil {
		user = &db.UserRecord{UserID: req.UserID, FirstSeenAt: now}
	}
	user.LastActionAt = now
	switch outcome {
	case db.StatusApproved:
		user.ApprovedCount++
	case db.StatusDeclined:
		user.DeclinedCount++
	case db.StatusBanned:
		user.BannedCount++
		user.Banned = true
	}
	if err := m.store.UpsertUser(ctx, user); err != nil {
		m.logger.WithField("error", err.Error()).Error("cant persist user record")
	}

	observability.RecordOutcome(string(outcome))
	if m.cfg.Settings.NotifyAdmins {
		m.notifier.NotifyDecision(ctx, req)
	}
	return nil
}

func (m *Machine) editPrompt(ctx context.Context, entry *log.Entry, req *db.JoinRequest, text string, buttons [][]Button) {
	if text == "" {
		return
	}
	if req.PromptMsgID == 0 {
		if _, err := m.platform.SendMessage(ctx, req.UserID, text, buttons); err != nil {
			entry.WithField("error", err.Error()).Warn("cant send outcome message")
		}
		return
	}
	if err := m.platform.EditMessage(ctx, req.UserID, req.PromptMsgID, text, buttons); err != nil {
		entry.WithField("error", err.Error()).Warn("cant update prompt message")
	}
}

func (m *Machine) renderPrompt() string {
	return templates.Render("welcome", m.channelVars())
}

func (m *Machine) promptButtons(req *db.JoinRequest) [][]Button {
	vars := m.channelVars()
	return [][]Button{
		{{Text: templates.Render("confirm_button", vars), Data: "cfm;" + req.ConfirmToken}},
		{{Text: templates.Render("decline_button", vars), Data: "dcl;" + req.ConfirmToken}},
	}
}

func (m *Machine) adapterButtons() [][]Button {
	adapter := m.cfg.Channel.AdapterChannel
	if adapter == "" {
		return nil
	}
	return [][]Button{{{
		Text: templates.Render("adapter_button", m.channelVars()),
		URL:  "https://t.me/" + strings.TrimPrefix(adapter, "@"),
	}}}
}

func (m *Machine) channelVars() templates.Vars {
	return templates.Vars{
		"channel_title":    m.cfg.Channel.Title,
		"age_requirement":  strconv.Itoa(m.cfg.Channel.AgeRequirement),
		"content_warnings": m.cfg.Channel.ContentWarnings,
		"adapter_channel":  m.cfg.Channel.AdapterChannel,
	}
}
