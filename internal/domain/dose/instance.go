package dose

import "time"

// Instance is the persisted state of one dose.
type Instance struct {
	Key            Key
	Status         Status
	EscalationStep int
	FirstFiredAt   *time.Time
	// LastFireAt is the scheduled instant of the latest InitialFire applied,
	// used to recognize a redelivered fire.
	LastFireAt *time.Time
	UpdatedAt  time.Time
}

// Clone returns a copy that can be modified without touching the original.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.FirstFiredAt = cloneTime(i.FirstFiredAt)
	c.LastFireAt = cloneTime(i.LastFireAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// SyncAction is one user-visible outcome waiting to be pulled by the host app.
type SyncAction struct {
	ID            string     `json:"id"`
	ReminderID    string     `json:"reminderId"`
	ScheduledTime string     `json:"scheduledTime"`
	Status        SyncStatus `json:"status"`
	Timestamp     time.Time  `json:"timestamp"`
	Date          string     `json:"date"`
}

// CaregiverAlert is raised once when a dose is finalized as missed.
type CaregiverAlert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	ReminderID   string    `json:"medicineId"`
	MedicineName string    `json:"medicineName"`
	Dosage       string    `json:"dosage"`
	Date         string    `json:"date"`
	TimeOfDay    string    `json:"scheduledTime"`
	IsCritical   bool      `json:"isCritical"`
	HouseholdID  string    `json:"householdId,omitempty"`
	CreatedAt    time.Time `json:"timestamp"`
}
