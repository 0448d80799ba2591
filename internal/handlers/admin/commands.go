package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	apperrors "github.com/iamwavecut/joinbot/internal/errors"
	"github.com/iamwavecut/joinbot/internal/stats"
	"github.com/iamwavecut/joinbot/internal/templates"
)

type command string

const (
	commandStart   command = "start"
	commandHelp    command = "help"
	commandStats   command = "stats"
	commandCleanup command = "cleanup"
	commandTest    command = "test"
	commandUsers   command = "users"

	statsWindow  = 24 * time.Hour
	recentUsersN = 10
)

// parseCommand maps an inbound command string onto the closed command set.
func parseCommand(raw string) (command, bool) {
	switch command(raw) {
	case commandStart, commandHelp, commandStats, commandCleanup, commandTest, commandUsers:
		return command(raw), true
	}
	return "", false
}

func (c command) adminOnly() bool {
	switch c {
	case commandStats, commandCleanup, commandUsers:
		return true
	}
	return false
}

func (a *Admin) handleCommand(ctx context.Context, cmd command, msg *api.Message, user *api.User) error {
	entry := a.getLogEntry().WithFields(log.Fields{
		"method":  "handleCommand",
		"command": string(cmd),
		"user_id": user.ID,
	})

	if cmd.adminOnly() && !a.cfg.IsAdmin(user.ID) {
		entry.Warn("unauthorized command")
		a.reply(ctx, entry, msg.Chat.ID, templates.Render("unauthorized", nil))
		return apperrors.ErrUnauthorized
	}

	switch cmd {
	case commandStart:
		a.reply(ctx, entry, msg.Chat.ID, templates.Render("start", a.channelVars()))
		return nil
	case commandHelp:
		a.reply(ctx, entry, msg.Chat.ID, templates.Render("help", a.channelVars()))
		return nil
	case commandTest:
		a.reply(ctx, entry, msg.Chat.ID, templates.Render("test", a.channelVars()))
		return nil
	case commandStats:
		return a.statsCommand(ctx, entry, msg.Chat.ID)
	case commandUsers:
		return a.usersCommand(ctx, entry, msg.Chat.ID)
	case commandCleanup:
		return a.cleanupCommand(ctx, entry, msg.Chat.ID)
	}
	return nil
}

func (a *Admin) statsCommand(ctx context.Context, entry *log.Entry, chatID int64) error {
	report, err := stats.Compute(ctx, a.s.GetDB(), statsWindow, recentUsersN)
	if err != nil {
		return errors.WithMessage(err, "cant compute stats")
	}

	vars := a.channelVars()
	vars["total"] = strconv.Itoa(report.Total)
	vars["pending"] = strconv.Itoa(report.Pending)
	vars["awaiting"] = strconv.Itoa(report.AwaitingAdmin)
	vars["approved"] = strconv.Itoa(report.Approved)
	vars["declined"] = strconv.Itoa(report.Declined)
	vars["banned"] = strconv.Itoa(report.Banned)
	vars["recent"] = strconv.Itoa(report.WithinWindow)
	a.reply(ctx, entry, chatID, templates.Render("stats", vars))
	return nil
}

func (a *Admin) usersCommand(ctx context.Context, entry *log.Entry, chatID int64) error {
	report, err := stats.Compute(ctx, a.s.GetDB(), 0, recentUsersN)
	if err != nil {
		return errors.WithMessage(err, "cant compute stats")
	}
	if len(report.RecentUsers) == 0 {
		a.reply(ctx, entry, chatID, "No requests yet")
		return nil
	}

	var b strings.Builder
	b.WriteString(templates.Render("users_header", nil))
	b.WriteString("\n\n")
	for _, req := range report.RecentUsers {
		username := req.Username
		if username == "" {
			username = "no username"
		}
		fmt.Fprintf(&b, "• %s (@%s): %s\n", req.DisplayName(), username, req.Status)
	}
	a.reply(ctx, entry, chatID, b.String())
	return nil
}

func (a *Admin) cleanupCommand(ctx context.Context, entry *log.Entry, chatID int64) error {
	removed, err := a.cleanup.Run(ctx)
	if err != nil {
		return errors.WithMessage(err, "cant run cleanup")
	}
	vars := templates.Vars{"count": strconv.FormatInt(removed, 10)}
	a.reply(ctx, entry, chatID, templates.Render("cleanup_report", vars))
	return nil
}

func (a *Admin) reply(ctx context.Context, entry *log.Entry, chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := a.platform.SendMessage(ctx, chatID, text, nil); err != nil {
		entry.WithField("error", err.Error()).Error("cant send reply")
	}
}

func (a *Admin) channelVars() templates.Vars {
	return templates.Vars{
		"channel_title":    a.cfg.Channel.Title,
		"age_requirement":  strconv.Itoa(a.cfg.Channel.AgeRequirement),
		"content_warnings": a.cfg.Channel.ContentWarnings,
		"adapter_channel":  a.cfg.Channel.AdapterChannel,
	}
}
