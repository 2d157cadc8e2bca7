package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medicine_reminder_bot/internal/app"
	"medicine_reminder_bot/internal/domain/dose"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const msgUnauthorized = "Error: you are not allowed to use this command."

// RegisterReminderHandlers registers the admin commands that manage reminders.
func RegisterReminderHandlers(ctx context.Context, b *telebot.Bot, service *app.ReminderService, adminTelegramID int64, baseLogger *logrus.Entry) {
	adminOnly := func(command string, next func(c telebot.Context, logCtx *logrus.Entry) error) {
		b.Handle(command, func(c telebot.Context) error {
			logCtx := baseLogger.WithFields(logrus.Fields{"handler": command, "sender_id": c.Sender().ID})
			logCtx.Info("Command received")
			if c.Sender().ID != adminTelegramID {
				logCtx.Warn("Unauthorized access attempt")
				return c.Send(msgUnauthorized)
			}
			return next(c, logCtx)
		})
	}

	schedule := func(critical bool) func(c telebot.Context, logCtx *logrus.Entry) error {
		return func(c telebot.Context, logCtx *logrus.Entry) error {
			args := c.Args()
			// Expected format: /schedule <id> <HH:MM[,HH:MM...]> <name> [dosage...]
			if len(args) < 3 {
				return c.Send("Invalid format. Use: /schedule <medicineId> <HH:MM[,HH:MM...]> <name> [dosage]")
			}
			req := app.ScheduleRequest{
				MedicineID:   args[0],
				MedicineName: args[2],
				Dosage:       strings.Join(args[3:], " "),
				Times:        strings.Split(args[1], ","),
				IsCritical:   critical,
				VoiceEnabled: true,
			}
			logCtx = logCtx.WithFields(logrus.Fields{"reminder_id": req.MedicineID, "times": args[1], "critical": critical})

			res, err := service.ScheduleMedicineReminders(ctx, req)
			if err != nil {
				return replyServiceError(c, logCtx, "Failed to schedule reminder", err)
			}
			logCtx.WithField("scheduled_count", res.ScheduledCount).Info("Reminders scheduled")
			return c.Send(fmt.Sprintf("Scheduled %s at %s (%d reminder(s)).", req.MedicineName, args[1], res.ScheduledCount))
		}
	}
	adminOnly("/schedule", schedule(false))
	adminOnly("/schedule_critical", schedule(true))

	adminOnly("/cancel", func(c telebot.Context, logCtx *logrus.Entry) error {
		args := c.Args()
		// Expected format: /cancel <id> [HH:MM]
		switch len(args) {
		case 1:
			n, err := service.CancelMedicineReminders(ctx, args[0])
			if err != nil {
				return replyServiceError(c, logCtx, "Failed to cancel reminders", err)
			}
			logCtx.WithFields(logrus.Fields{"reminder_id": args[0], "cancelled": n}).Info("Reminders cancelled")
			return c.Send(fmt.Sprintf("Cancelled %d reminder(s) for %s.", n, args[0]))
		case 2:
			if err := service.CancelReminder(ctx, args[0], args[1]); err != nil {
				return replyServiceError(c, logCtx, "Failed to cancel reminder", err)
			}
			logCtx.WithFields(logrus.Fields{"reminder_id": args[0], "time": args[1]}).Info("Reminder cancelled")
			return c.Send(fmt.Sprintf("Cancelled %s at %s.", args[0], args[1]))
		default:
			return c.Send("Invalid format. Use: /cancel <medicineId> [HH:MM]")
		}
	})

	adminOnly("/reminders", func(c telebot.Context, logCtx *logrus.Entry) error {
		list, err := service.ListScheduledReminders(ctx)
		if err != nil {
			return replyServiceError(c, logCtx, "Failed to list reminders", err)
		}
		if len(list) == 0 {
			return c.Send("No reminders are scheduled.")
		}

		var response strings.Builder
		response.WriteString("Scheduled reminders:\n")
		for _, r := range list {
			fmt.Fprintf(&response, "\n• %s %s (%s)", r.Time, r.Name, r.ID)
			if r.Dosage != "" {
				response.WriteString(", " + r.Dosage)
			}
			if r.IsCritical {
				response.WriteString(" 🔴")
			}
			if !r.NextFireAt.IsZero() {
				fmt.Fprintf(&response, "\n  next: %s", r.NextFireAt.Format("2006-01-02 15:04"))
			}
		}
		if !service.CanScheduleExactTimers() {
			response.WriteString("\n\n⚠️ Exact timers are off, reminders may be up to a minute late.")
		}
		return c.Send(response.String())
	})

	adminOnly("/taken", func(c telebot.Context, logCtx *logrus.Entry) error {
		args := c.Args()
		// Expected format: /taken <id> <HH:MM> [YYYY-MM-DD]
		if len(args) < 2 || len(args) > 3 {
			return c.Send("Invalid format. Use: /taken <medicineId> <HH:MM> [YYYY-MM-DD]")
		}
		date := ""
		if len(args) == 3 {
			date = args[2]
		}
		inst, err := service.MarkTaken(ctx, args[0], args[1], date)
		if err != nil {
			return replyServiceError(c, logCtx, "Failed to mark dose as taken", err)
		}
		logCtx.WithFields(logrus.Fields{"reminder_id": args[0], "status": inst.Status}).Info("Dose marked as taken")
		if inst.Status != dose.StatusAcknowledged {
			return c.Send(fmt.Sprintf("Recorded as taken. The dose stays %s.", strings.ToLower(string(inst.Status))))
		}
		return c.Send("Dose marked as taken.")
	})

	adminOnly("/alerts", func(c telebot.Context, logCtx *logrus.Entry) error {
		alerts, err := service.GetPendingCaregiverAlerts(ctx)
		if err != nil {
			return replyServiceError(c, logCtx, "Failed to list caregiver alerts", err)
		}
		if len(alerts) == 0 {
			return c.Send("No pending caregiver alerts.")
		}
		var response strings.Builder
		response.WriteString("Pending caregiver alerts:\n")
		for _, a := range alerts {
			fmt.Fprintf(&response, "\n• %s %s %s", a.Date, a.TimeOfDay, a.MedicineName)
			if a.IsCritical {
				response.WriteString(" 🔴")
			}
		}
		return c.Send(response.String())
	})
}

func replyServiceError(c telebot.Context, logCtx *logrus.Entry, msg string, err error) error {
	logWithError := logCtx.WithError(err)
	switch {
	case errors.Is(err, app.ErrMissingParameter), errors.Is(err, app.ErrInvalidParameter):
		logWithError.Warn(msg)
		return c.Send("Error: " + err.Error())
	default:
		logWithError.Error(msg)
		return c.Send("An error occurred, please try again later.")
	}
}
