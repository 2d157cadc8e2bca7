// internal/infra/telegram/dose_response_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medicine_reminder_bot/internal/app"
	"medicine_reminder_bot/internal/domain/dose"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// DoseActions is what the notification buttons trigger; *app.ReminderService implements it.
type DoseActions interface {
	MarkTaken(ctx context.Context, id, at, date string) (*dose.Instance, error)
	Snooze(ctx context.Context, key dose.Key) (time.Time, error)
	Skip(ctx context.Context, key dose.Key) (*dose.Instance, error)
}

// RegisterDoseResponseHandlers wires the Taken / Snooze / Skip buttons. Only the
// care-recipient and the admin may answer.
func RegisterDoseResponseHandlers(ctx context.Context, b *telebot.Bot, actions DoseActions, allowed []int64, baseLogger *logrus.Entry) {
	handle := func(unique string, apply func(key dose.Key) (string, error)) {
		b.Handle(&telebot.Btn{Unique: unique}, func(c telebot.Context) error {
			logCtx := baseLogger.WithFields(logrus.Fields{"handler": unique, "sender_id": c.Sender().ID})
			if !senderAllowed(c.Sender().ID, allowed) {
				logCtx.Warn("Unauthorized dose action")
				return c.Respond(&telebot.CallbackResponse{Text: "You cannot answer this reminder."})
			}

			key, err := decodeCallbackKey(c.Callback().Data)
			if err != nil {
				c.Bot().OnError(fmt.Errorf("invalid callback data for %s: %w", unique, err), c)
				return c.Respond(&telebot.CallbackResponse{Text: "This reminder could not be read."})
			}
			logCtx = logCtx.WithFields(logrus.Fields{"reminder_id": key.ReminderID, "time": key.Time.String(), "date": key.Date})

			reply, err := apply(key)
			if err != nil {
				if errors.Is(err, app.ErrDoseSettled) {
					logCtx.WithError(err).Info("Dose action on settled dose")
					return c.Respond(&telebot.CallbackResponse{Text: "This dose is already settled."})
				}
				logCtx.WithError(err).Error("Failed to apply dose action")
				return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong, please try again."})
			}
			logCtx.Info("Dose action applied")
			return c.Respond(&telebot.CallbackResponse{Text: reply})
		})
	}

	handle(uniqueTaken, func(key dose.Key) (string, error) {
		inst, err := actions.MarkTaken(ctx, key.ReminderID, key.Time.String(), key.Date)
		if err != nil {
			return "", err
		}
		if inst.Status != dose.StatusAcknowledged {
			return "Recorded as taken late.", nil
		}
		return "Marked as taken. Well done!", nil
	})
	handle(uniqueSnooze, func(key dose.Key) (string, error) {
		at, err := actions.Snooze(ctx, key)
		if err != nil {
			return "", err
		}
		return "I'll remind you again at " + at.Format("15:04") + ".", nil
	})
	handle(uniqueSkip, func(key dose.Key) (string, error) {
		if _, err := actions.Skip(ctx, key); err != nil {
			return "", err
		}
		return "Dose skipped.", nil
	})
}

func senderAllowed(id int64, allowed []int64) bool {
	for _, a := range allowed {
		if a != 0 && a == id {
			return true
		}
	}
	return false
}
