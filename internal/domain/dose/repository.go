package dose

import (
	"context"
	"errors"
)

// ErrInstanceNotFound is returned when no dose instance is stored for a key.
var ErrInstanceNotFound = errors.New("dose instance not found")

// MutateFunc receives the current instance (nil when none is stored yet) and
// returns the instance to persist. Returning nil leaves the store untouched.
type MutateFunc func(current *Instance) (*Instance, error)

// Repository is the durable dose state store.
type Repository interface {
	// Mutate runs fn with exclusive access to the instance for key and persists
	// its result atomically. It returns what is stored after the call.
	Mutate(ctx context.Context, key Key, fn MutateFunc) (*Instance, error)
	GetInstance(ctx context.Context, key Key) (*Instance, error)

	AppendSyncAction(ctx context.Context, action *SyncAction) error
	ListSyncActions(ctx context.Context) ([]*SyncAction, error)
	ClearSyncActions(ctx context.Context) error

	AppendCaregiverAlert(ctx context.Context, alert *CaregiverAlert) error
	ListCaregiverAlerts(ctx context.Context) ([]*CaregiverAlert, error)
	ClearCaregiverAlerts(ctx context.Context) error
}
