package reminder

import (
	"context"
	"errors"
)

// ErrDefinitionNotFound is returned by repositories when no definition matches.
var ErrDefinitionNotFound = errors.New("reminder definition not found")

// Repository persists reminder definitions keyed by (ID, Time).
type Repository interface {
	// SaveDefinition inserts or replaces the definition for (def.ID, def.Time).
	SaveDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, id string, at TimeOfDay) (*Definition, error)
	DeleteDefinition(ctx context.Context, id string, at TimeOfDay) error
	ListDefinitions(ctx context.Context) ([]*Definition, error)
	ListDefinitionsByReminder(ctx context.Context, id string) ([]*Definition, error)
}
