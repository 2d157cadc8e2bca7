package dose

import "fmt"

// Status is the lifecycle state of one dose instance.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusSnoozed      Status = "SNOOZED"
	StatusSkipped      Status = "SKIPPED"
	StatusEscalating   Status = "ESCALATING"
	StatusMissed       Status = "MISSED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAcknowledged, StatusSkipped, StatusMissed:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusAcknowledged, StatusSnoozed, StatusSkipped, StatusEscalating, StatusMissed:
		return st, nil
	}
	return "", fmt.Errorf("unknown dose status %q", s)
}

// SyncStatus is the outcome recorded in a SyncAction.
type SyncStatus string

const (
	SyncTaken   SyncStatus = "TAKEN"
	SyncSnoozed SyncStatus = "SNOOZED"
	SyncSkipped SyncStatus = "SKIPPED"
	SyncMissed  SyncStatus = "MISSED"
)

// AlertTypeMedicineMissed is the only caregiver alert type emitted today.
const AlertTypeMedicineMissed = "MEDICINE_MISSED"
