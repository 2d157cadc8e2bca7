package telegram

import (
	"context"
	"fmt"
	"strings"

	"medicine_reminder_bot/internal/domain/dose"
	domainTelegram "medicine_reminder_bot/internal/domain/telegram"

	"gopkg.in/telebot.v3"
)

// CaregiverSink forwards missed-dose alerts to the caregiver's chat.
type CaregiverSink struct {
	client domainTelegram.Client
	chatID int64
}

func NewCaregiverSink(client domainTelegram.Client, chatID int64) *CaregiverSink {
	return &CaregiverSink{client: client, chatID: chatID}
}

func (s *CaregiverSink) Deliver(_ context.Context, alert *dose.CaregiverAlert) error {
	_, err := s.client.SendMessage(s.chatID, caregiverAlertText(alert), &telebot.SendOptions{})
	if err != nil {
		return fmt.Errorf("failed to send caregiver alert %s: %w", alert.ID, err)
	}
	return nil
}

func caregiverAlertText(alert *dose.CaregiverAlert) string {
	var b strings.Builder
	if alert.IsCritical {
		b.WriteString("🔴 CRITICAL medicine missed\n\n")
	} else {
		b.WriteString("❗ Medicine missed\n\n")
	}
	b.WriteString(alert.MedicineName)
	if alert.Dosage != "" {
		b.WriteString(" (" + alert.Dosage + ")")
	}
	fmt.Fprintf(&b, "\nScheduled at %s on %s was not taken.", alert.TimeOfDay, alert.Date)
	return b.String()
}
