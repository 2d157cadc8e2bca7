package dose

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"medicine_reminder_bot/internal/domain/reminder"
)

// DateLayout is the layout of Key.Date.
const DateLayout = "2006-01-02"

var ErrInvalidKey = errors.New("invalid dose key")

// Key correlates every timer, notification and record of one dose:
// a reminder, its time of day and the calendar date it is due on.
type Key struct {
	ReminderID string             `json:"reminderId"`
	Time       reminder.TimeOfDay `json:"scheduledTime"`
	Date       string             `json:"date"`
}

// KeyFor builds the key of the dose a definition produces at the given instant.
func KeyFor(def *reminder.Definition, at time.Time) Key {
	return Key{ReminderID: def.ID, Time: def.Time, Date: at.Format(DateLayout)}
}

// String encodes the key as "<reminderId>|<HH:MM>|<YYYY-MM-DD>".
func (k Key) String() string {
	return k.ReminderID + "|" + k.Time.String() + "|" + k.Date
}

// ParseKey is the inverse of Key.String. The reminder id may itself contain '|'.
func ParseKey(s string) (Key, error) {
	last := strings.LastIndex(s, "|")
	if last < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	head, date := s[:last], s[last+1:]
	mid := strings.LastIndex(head, "|")
	if mid <= 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	at, err := reminder.ParseTimeOfDay(head[mid+1:])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Key{}, fmt.Errorf("%w: bad date %q", ErrInvalidKey, date)
	}
	return Key{ReminderID: head[:mid], Time: at, Date: date}, nil
}

func (k Key) Validate() error {
	if k.ReminderID == "" {
		return fmt.Errorf("%w: empty reminder id", ErrInvalidKey)
	}
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("%w: bad date %q", ErrInvalidKey, k.Date)
	}
	return nil
}
