package timer

import (
	"context"
	"fmt"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/reminder"
)

// Kind is the trigger a timer delivers when it fires.
type Kind string

const (
	KindInitialFire   Kind = "INITIAL_FIRE"
	KindFollowUpCheck Kind = "FOLLOW_UP_CHECK"
	KindEscalate      Kind = "ESCALATE"
	KindFinalCheck    Kind = "FINAL_CHECK"
)

// Payload is everything a handler needs when the timer fires.
// Date is empty for the daily base reminder; the date of FireAt is used then.
type Payload struct {
	Kind       Kind                `json:"kind"`
	Definition reminder.Definition `json:"definition"`
	Date       string              `json:"date,omitempty"`
	Step       int                 `json:"step,omitempty"`
	FireAt     time.Time           `json:"fireAt"`
}

// IsDaily reports whether the payload belongs to a recurring base reminder.
func (p Payload) IsDaily() bool {
	return p.Kind == KindInitialFire && p.Date == ""
}

// Key resolves the dose key, using loc for daily payloads.
func (p Payload) Key(loc *time.Location) dose.Key {
	date := p.Date
	if date == "" {
		date = p.FireAt.In(loc).Format(dose.DateLayout)
	}
	return dose.Key{ReminderID: p.Definition.ID, Time: p.Definition.Time, Date: date}
}

// Timer is an armed one-shot timer.
type Timer struct {
	ID      string
	FireAt  time.Time
	Payload Payload
}

// Facility arms one-shot timers that survive restarts.
// Arming an id that is already armed replaces it.
type Facility interface {
	Arm(ctx context.Context, id string, at time.Time, payload Payload) error
	// ArmUnlessPending keeps a timer already armed under id whose fire time
	// lies in [notBefore, at] and arms it like Arm otherwise. It reports
	// whether it armed.
	ArmUnlessPending(ctx context.Context, id string, at, notBefore time.Time, payload Payload) (bool, error)
	Cancel(ctx context.Context, id string) error
	// CanScheduleExact is false when fire times are coalesced.
	CanScheduleExact() bool
}

// Handler consumes fired timers.
type Handler interface {
	HandleTimer(ctx context.Context, t Timer)
}

// DailyID identifies the recurring base timer of a reminder time.
func DailyID(reminderID string, at reminder.TimeOfDay) string {
	return "daily:" + reminderID + "|" + at.String()
}

func SnoozeID(key dose.Key) string {
	return "snooze:" + key.String()
}

func FollowUpID(key dose.Key) string {
	return "followup:" + key.String()
}

func EscalateID(key dose.Key, step int) string {
	return fmt.Sprintf("escalate:%s#%d", key.String(), step)
}

func FinalCheckID(key dose.Key) string {
	return "final:" + key.String()
}

// ChainIDs lists every escalation timer id a dose can have armed, up to maxStep.
func ChainIDs(key dose.Key, maxStep int) []string {
	ids := []string{FollowUpID(key), FinalCheckID(key)}
	for step := 1; step <= maxStep; step++ {
		ids = append(ids, EscalateID(key, step))
	}
	return ids
}
