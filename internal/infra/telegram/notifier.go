package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"
	domainTelegram "medicine_reminder_bot/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Notifier shows dose notifications in the care-recipient's chat. Each key
// has at most one live message: showing again deletes the previous one.
type Notifier struct {
	client domainTelegram.Client
	chatID int64
	logger *logrus.Entry

	mu   sync.Mutex
	sent map[dose.Key][]int
}

func NewNotifier(client domainTelegram.Client, chatID int64, logger *logrus.Entry) *Notifier {
	return &Notifier{
		client: client,
		chatID: chatID,
		logger: logger,
		sent:   make(map[dose.Key][]int),
	}
}

func (n *Notifier) Show(ctx context.Context, note notification.Notification) error {
	// Best effort; a message that cannot be deleted just stays in the chat.
	_ = n.Dismiss(ctx, note.Key)

	opts := &telebot.SendOptions{ParseMode: telebot.ModeDefault}
	if len(note.Actions) > 0 {
		opts.ReplyMarkup = actionKeyboard(note.Key, note.Actions)
	}
	if note.Urgency == notification.UrgencyNormal {
		opts.DisableNotification = true
	}

	msg, err := n.client.SendMessage(n.chatID, note.Title+"\n\n"+note.Body, opts)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", note.Kind, err)
	}

	n.mu.Lock()
	n.sent[note.Key] = append(n.sent[note.Key], msg.ID)
	n.mu.Unlock()
	return nil
}

func (n *Notifier) Dismiss(_ context.Context, key dose.Key) error {
	n.mu.Lock()
	ids := n.sent[key]
	delete(n.sent, key)
	n.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := n.client.DeleteMessage(n.chatID, id); err != nil {
			n.logger.WithError(err).WithField("message_id", id).Debug("Could not delete notification message")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func actionKeyboard(key dose.Key, actions []notification.Action) *telebot.ReplyMarkup {
	replyMarkup := &telebot.ReplyMarkup{}
	data := encodeCallbackKey(key)
	var btns []telebot.Btn
	for _, a := range actions {
		switch a {
		case notification.ActionTaken:
			btns = append(btns, replyMarkup.Data("✓ Taken", uniqueTaken, data))
		case notification.ActionSnooze:
			btns = append(btns, replyMarkup.Data("⏰ Snooze 15m", uniqueSnooze, data))
		case notification.ActionSkip:
			btns = append(btns, replyMarkup.Data("Skip", uniqueSkip, data))
		}
	}
	replyMarkup.Inline(replyMarkup.Row(btns...))
	return replyMarkup
}

var _ notification.Notifier = (*Notifier)(nil)
