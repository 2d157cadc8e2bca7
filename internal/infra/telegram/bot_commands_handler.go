// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"medicine_reminder_bot/internal/infra/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	b *telebot.Bot,
	cfg *config.AppConfig, // For AdminTelegramID / PatientTelegramID
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		switch senderID {
		case cfg.AdminTelegramID:
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Hello, %s! I'm ready. Use /help to see the commands.", c.Sender().FirstName))
		case cfg.PatientTelegramID:
			logCtx.Info("User identified as care-recipient")
			return c.Send(fmt.Sprintf("Hello, %s! I'll remind you when it's time to take your medicine.", c.Sender().FirstName))
		case cfg.CaregiverTelegramID:
			logCtx.Info("User identified as caregiver")
			return c.Send("Hello! I'll let you know here if a dose is missed.")
		}

		logCtx.Info("User is unknown")
		return c.Send("Hello! I'm a medicine reminder bot. Please ask the administrator to set me up for you.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID == cfg.AdminTelegramID {
			var helpText strings.Builder
			helpText.WriteString("Admin commands:\n\n")
			helpText.WriteString("`/schedule <medicineId> <HH:MM[,HH:MM...]> <name> [dosage]`\n - Schedule daily reminders.\n\n")
			helpText.WriteString("`/schedule_critical ...`\n - Same, for a critical medicine.\n\n")
			helpText.WriteString("`/cancel <medicineId> [HH:MM]`\n - Cancel one time or every time of a medicine.\n\n")
			helpText.WriteString("`/reminders`\n - List scheduled reminders.\n\n")
			helpText.WriteString("`/taken <medicineId> <HH:MM> [YYYY-MM-DD]`\n - Mark a dose as taken.\n\n")
			helpText.WriteString("`/alerts`\n - Show pending caregiver alerts.\n\n")
			helpText.WriteString("`/help`\n - Show this message.")
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		if senderID == cfg.PatientTelegramID {
			return c.Send("I'll send a message when a dose is due. Tap ✓ Taken once you took it, ⏰ Snooze to be reminded in 15 minutes, or Skip.\n\nIf a dose is not taken, I'll remind you a few more times and then let your caregiver know.")
		}

		return c.Send("There are no commands available for you.")
	})
}
