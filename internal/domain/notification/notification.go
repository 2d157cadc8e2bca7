// internal/domain/notification/notification.go
package notification

import (
	"time"

	"medicine_reminder_bot/internal/domain/dose"
)

// Kind tells the display which stage of the dose lifecycle a notification belongs to.
type Kind string

const (
	KindDueNow        Kind = "DUE_NOW"
	KindOverdue       Kind = "OVERDUE"
	KindUrgentOverdue Kind = "URGENT_OVERDUE"
	KindMissed        Kind = "MISSED"
)

// Urgency maps to how intrusive the display is allowed to be.
type Urgency string

const (
	UrgencyNormal   Urgency = "NORMAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Action is a button offered next to a notification.
type Action string

const (
	ActionTaken  Action = "TAKEN"
	ActionSnooze Action = "SNOOZE"
	ActionSkip   Action = "SKIP"
)

// Notification is one display request. Showing a notification for a key
// that already has one replaces it.
type Notification struct {
	Key     dose.Key
	Kind    Kind
	Title   string
	Body    string
	Urgency Urgency
	Actions []Action
}

// Vibration patterns alternate wait/vibrate durations starting with a wait.
var (
	VibrationNormal = []time.Duration{0, 300 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	VibrationUrgent = []time.Duration{
		0, 500 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond,
		200 * time.Millisecond, 500 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond,
	}
)
