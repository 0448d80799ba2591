package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/joinbot/internal/db"
	"github.com/iamwavecut/joinbot/internal/flow"
	"github.com/iamwavecut/joinbot/internal/templates"
)

// Callback data prefixes understood by the admin handler.
const (
	CallbackApprove = "adm;approve"
	CallbackDecline = "adm;decline"
	CallbackBan     = "adm;ban"
	CallbackView    = "adm;view"
)

type sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]flow.Button) (int, error)
}

// AdminNotifier fans formatted transition summaries out to every
// configured admin. Delivery is best-effort per recipient: a failure is
// logged and never aborts the rest of the batch.
type AdminNotifier struct {
	platform sender
	adminIDs []int64
	logger   *log.Entry
}

func NewAdminNotifier(platform sender, adminIDs []int64) *AdminNotifier {
	return &AdminNotifier{
		platform: platform,
		adminIDs: adminIDs,
		logger:   log.WithField("object", "AdminNotifier"),
	}
}

func (n *AdminNotifier) NotifyNewRequest(ctx context.Context, req *db.JoinRequest) {
	n.broadcast(ctx, templates.Render("admin_new", requestVars(req)), actionKeyboard(req))
}

func (n *AdminNotifier) NotifyConfirmed(ctx context.Context, req *db.JoinRequest) {
	n.broadcast(ctx, templates.Render("admin_confirmed", requestVars(req)), actionKeyboard(req))
}

func (n *AdminNotifier) NotifyDecision(ctx context.Context, req *db.JoinRequest) {
	n.broadcast(ctx, templates.Render("admin_decided", requestVars(req)), nil)
}

// NotifyText sends a plain text notice to all admins.
func (n *AdminNotifier) NotifyText(ctx context.Context, text string) {
	n.broadcast(ctx, text, nil)
}

func (n *AdminNotifier) broadcast(ctx context.Context, text string, buttons [][]flow.Button) {
	if text == "" {
		return
	}
	var g errgroup.Group
	for _, adminID := range n.adminIDs {
		adminID := adminID
		g.Go(func() error {
			if _, err := n.platform.SendMessage(ctx, adminID, text, buttons); err != nil {
				n.logger.WithFields(log.Fields{
					"admin_id": adminID,
					"error":    err.Error(),
				}).Error("cant notify admin")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func actionKeyboard(req *db.JoinRequest) [][]flow.Button {
	pair := fmt.Sprintf(";%d;%d", req.ChatID, req.UserID)
	return [][]flow.Button{
		{
			{Text: "✅ Approve", Data: CallbackApprove + pair},
			{Text: "❌ Decline", Data: CallbackDecline + pair},
		},
		{
			{Text: "⛔ Ban", Data: CallbackBan + pair},
			{Text: "🔎 Info", Data: CallbackView + pair},
		},
	}
}

func requestVars(req *db.JoinRequest) templates.Vars {
	username := req.Username
	if username == "" {
		username = "no username"
	}
	return templates.Vars{
		"user":       req.DisplayName(),
		"username":   username,
		"user_id":    strconv.FormatInt(req.UserID, 10),
		"status":     string(req.Status),
		"decided_by": req.DecidedBy,
		"time":       time.Now().Format("2006-01-02 15:04:05"),
	}
}
