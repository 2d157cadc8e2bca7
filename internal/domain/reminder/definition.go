package reminder

import (
	"errors"
	"time"
)

var (
	ErrEmptyID   = errors.New("reminder id is empty")
	ErrEmptyName = errors.New("medicine name is empty")
)

// MaxIDLength bounds a reminder id so the dose buttons built from it stay
// within Telegram's 64-byte callback data.
const MaxIDLength = 37

// Definition is one daily reminder: a medicine at a fixed local time.
// A medicine taken several times a day has one Definition per time.
type Definition struct {
	ID           string    `json:"medicineId"`
	Name         string    `json:"medicineName"`
	Dosage       string    `json:"dosage"`
	Time         TimeOfDay `json:"time"`
	IsCritical   bool      `json:"isCritical"`
	Instructions string    `json:"instructions,omitempty"`
	VoiceEnabled bool      `json:"voiceReminderEnabled"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate checks the fields the scheduler cannot work without.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}
	if d.Name == "" {
		return ErrEmptyName
	}
	if d.Time.Hour < 0 || d.Time.Hour > 23 || d.Time.Minute < 0 || d.Time.Minute > 59 {
		return ErrInvalidTimeOfDay
	}
	return nil
}
