// internal/infra/database/postgres_reminder_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"medicine_reminder_bot/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// PostgresReminderRepository stores each definition as a JSON blob keyed by (reminder_id, time_of_day).
type PostgresReminderRepository struct {
	db     *sql.DB
	logger *logrus.Entry
}

func NewPostgresReminderRepository(db *sql.DB, logger *logrus.Entry) *PostgresReminderRepository {
	return &PostgresReminderRepository{db: db, logger: logger}
}

func (r *PostgresReminderRepository) SaveDefinition(ctx context.Context, def *reminder.Definition) error {
	blob, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("error encoding reminder definition: %w", err)
	}
	query := `INSERT INTO reminder_definitions (reminder_id, time_of_day, definition, updated_at)
              VALUES ($1, $2, $3, NOW())
              ON CONFLICT (reminder_id, time_of_day)
              DO UPDATE SET definition = EXCLUDED.definition, updated_at = NOW()
              RETURNING updated_at`
	err = r.db.QueryRowContext(ctx, query, def.ID, def.Time.String(), blob).Scan(&def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving reminder definition %s@%s: %w", def.ID, def.Time, err)
	}
	return nil
}

func (r *PostgresReminderRepository) GetDefinition(ctx context.Context, id string, at reminder.TimeOfDay) (*reminder.Definition, error) {
	query := `SELECT reminder_id, time_of_day, definition, updated_at
              FROM reminder_definitions WHERE reminder_id = $1 AND time_of_day = $2`
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id, at.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, reminder.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("error getting reminder definition %s@%s: %w", id, at, err)
	}
	return def, nil
}

func (r *PostgresReminderRepository) DeleteDefinition(ctx context.Context, id string, at reminder.TimeOfDay) error {
	query := `DELETE FROM reminder_definitions WHERE reminder_id = $1 AND time_of_day = $2`
	if _, err := r.db.ExecContext(ctx, query, id, at.String()); err != nil {
		return fmt.Errorf("error deleting reminder definition %s@%s: %w", id, at, err)
	}
	return nil
}

func (r *PostgresReminderRepository) ListDefinitions(ctx context.Context) ([]*reminder.Definition, error) {
	query := `SELECT reminder_id, time_of_day, definition, updated_at
              FROM reminder_definitions ORDER BY reminder_id, time_of_day`
	return r.listDefinitions(ctx, query)
}

func (r *PostgresReminderRepository) ListDefinitionsByReminder(ctx context.Context, id string) ([]*reminder.Definition, error) {
	query := `SELECT reminder_id, time_of_day, definition, updated_at
              FROM reminder_definitions WHERE reminder_id = $1 ORDER BY time_of_day`
	return r.listDefinitions(ctx, query, id)
}

// listDefinitions skips rows whose blob cannot be decoded instead of failing the whole listing.
func (r *PostgresReminderRepository) listDefinitions(ctx context.Context, query string, args ...any) ([]*reminder.Definition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing reminder definitions: %w", err)
	}
	defer rows.Close()

	var defs []*reminder.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			r.logger.WithError(err).Warn("Skipping unreadable reminder definition")
			continue
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder definitions: %w", err)
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*reminder.Definition, error) {
	var (
		id, at string
		blob   []byte
		def    reminder.Definition
	)
	if err := row.Scan(&id, &at, &blob, &def.UpdatedAt); err != nil {
		return nil, err
	}
	updatedAt := def.UpdatedAt
	if err := json.Unmarshal(blob, &def); err != nil {
		return nil, fmt.Errorf("corrupt definition %s@%s: %w", id, at, err)
	}
	parsed, err := reminder.ParseTimeOfDay(at)
	if err != nil {
		return nil, fmt.Errorf("corrupt definition %s@%s: %w", id, at, err)
	}
	// The key columns win over whatever the blob says.
	def.ID, def.Time, def.UpdatedAt = id, parsed, updatedAt
	return &def, nil
}
