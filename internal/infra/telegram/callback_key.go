package telegram

import (
	"fmt"
	"strings"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/reminder"
)

// Button uniques of the dose notification keyboard.
const (
	uniqueTaken  = "dose_taken"
	uniqueSnooze = "dose_snooze"
	uniqueSkip   = "dose_skip"
)

const compactDate = "20060102"

// encodeCallbackKey packs a dose key as "<id>|HHMM|YYYYMMDD" so it fits the
// 64-byte callback data limit together with the button unique.
func encodeCallbackKey(key dose.Key) string {
	date := key.Date
	if d, err := time.Parse(dose.DateLayout, key.Date); err == nil {
		date = d.Format(compactDate)
	}
	return fmt.Sprintf("%s|%02d%02d|%s", key.ReminderID, key.Time.Hour, key.Time.Minute, date)
}

func decodeCallbackKey(data string) (dose.Key, error) {
	last := strings.LastIndex(data, "|")
	if last < 0 {
		return dose.Key{}, fmt.Errorf("%w: %q", dose.ErrInvalidKey, data)
	}
	head, rawDate := data[:last], data[last+1:]
	mid := strings.LastIndex(head, "|")
	if mid <= 0 || len(head[mid+1:]) != 4 {
		return dose.Key{}, fmt.Errorf("%w: %q", dose.ErrInvalidKey, data)
	}
	hhmm := head[mid+1:]
	at, err := reminder.ParseTimeOfDay(hhmm[:2] + ":" + hhmm[2:])
	if err != nil {
		return dose.Key{}, fmt.Errorf("%w: %v", dose.ErrInvalidKey, err)
	}
	date, err := time.Parse(compactDate, rawDate)
	if err != nil {
		return dose.Key{}, fmt.Errorf("%w: bad date %q", dose.ErrInvalidKey, rawDate)
	}
	return dose.Key{ReminderID: head[:mid], Time: at, Date: date.Format(dose.DateLayout)}, nil
}
