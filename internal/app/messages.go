package app

import (
	"fmt"
	"strings"

	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/domain/reminder"
)

func medicineWithDosage(def *reminder.Definition) string {
	if def.Dosage == "" {
		return def.Name
	}
	return def.Name + ", " + def.Dosage
}

func dueNotification(def *reminder.Definition) (title, body string, urgency notification.Urgency) {
	title = "💊 " + def.Name
	urgency = notification.UrgencyHigh
	if def.IsCritical {
		title = "🔴 CRITICAL: " + def.Name
		urgency = notification.UrgencyCritical
	}
	body = "Scheduled at " + def.Time.String()
	if def.Dosage != "" {
		body = def.Dosage + " at " + def.Time.String()
	}
	if def.Instructions != "" {
		body += "\n" + def.Instructions
	}
	return title, body, urgency
}

func overdueNotification(def *reminder.Definition) (title, body string) {
	return "⚠️ Medicine Overdue: " + def.Name,
		fmt.Sprintf("You haven't taken %s (scheduled at %s). Please take it now.", def.Name, def.Time)
}

func urgentNotification(def *reminder.Definition, minutesOverdue int) (title, body string) {
	return fmt.Sprintf("🔴 URGENT: %s - %dmin overdue!", def.Name, minutesOverdue),
		fmt.Sprintf("Please take %s NOW. Your caregiver will be notified if this dose is missed.", medicineWithDosage(def))
}

func missedNotification(def *reminder.Definition) (title, body string) {
	return "❌ MISSED: " + def.Name,
		fmt.Sprintf("You missed %s scheduled at %s. Your caregiver has been notified.", def.Name, def.Time)
}

func dueSpeech(def *reminder.Definition) string {
	var b strings.Builder
	if def.IsCritical {
		b.WriteString("Attention! Critical medication alert. ")
	} else {
		b.WriteString("Medicine reminder. ")
	}
	fmt.Fprintf(&b, "Time to take %s.", medicineWithDosage(def))
	return b.String()
}

func missedSpeech(def *reminder.Definition, urgent bool) string {
	var b strings.Builder
	if urgent {
		b.WriteString("Urgent! You have missed your medicine. ")
	} else {
		b.WriteString("Reminder. You haven't taken your medicine. ")
	}
	fmt.Fprintf(&b, "Please take %s now.", medicineWithDosage(def))
	return b.String()
}
