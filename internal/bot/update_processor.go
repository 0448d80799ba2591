package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// UpdateTimeout drops updates the platform redelivered long after the
	// fact, so a restart does not replay stale decisions.
	UpdateTimeout = 5 * time.Minute
)

type UpdateProcessor struct {
	s              Service
	updateHandlers []Handler
}

var registeredHandlers = make(map[string]Handler)

func RegisterUpdateHandler(title string, handler Handler) {
	registeredHandlers[title] = handler
}

func NewUpdateProcessor(s Service, enabled []string) *UpdateProcessor {
	enabledHandlers := make([]Handler, 0)
	for _, handlerName := range enabled {
		if _, ok := registeredHandlers[handlerName]; !ok || registeredHandlers[handlerName] == nil {
			log.Warnf("no registered handler: %s", handlerName)
			continue
		}
		enabledHandlers = append(enabledHandlers, registeredHandlers[handlerName])
	}

	return &UpdateProcessor{
		s:              s,
		updateHandlers: enabledHandlers,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	updateTime := updateTimestamp(u)
	if time.Since(updateTime) > UpdateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         time.Since(updateTime),
		}).Debug("Skipping outdated update")
		return nil
	}

	chat := u.FromChat()
	if chat == nil && u.ChatJoinRequest != nil {
		chat = &u.ChatJoinRequest.Chat
	}
	user := u.SentFrom()
	if user == nil && u.ChatJoinRequest != nil {
		user = &u.ChatJoinRequest.From
	}

	for _, handler := range up.updateHandlers {
		if handler == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			proceed, err := handler.Handle(ctx, u, chat, user)
			if err != nil {
				return errors.WithMessage(err, "handling error")
			}
			if !proceed {
				log.Trace("not proceeding")
				return nil
			}
		}
	}
	return nil
}

// updateTimestamp extracts the platform timestamp for the staleness
// check. Callback queries carry no tap time of their own (only the
// prompt message's date, which may be arbitrarily old for a legitimate
// tap), so they pass as current; redelivery safety for them comes from
// the state checks in the transition layer.
func updateTimestamp(u *api.Update) time.Time {
	switch {
	case u.Message != nil && u.Message.Date > 0:
		return time.Unix(int64(u.Message.Date), 0)
	case u.ChatJoinRequest != nil && u.ChatJoinRequest.Date > 0:
		return time.Unix(int64(u.ChatJoinRequest.Date), 0)
	}
	return time.Now()
}

// GetUpdatesChans polls the bot API and forwards updates until the context
// is done.
func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}

// GetUN returns the best short handle for logging a user.
func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return userName
}
