// internal/infra/database/postgres_dose_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/reminder"
)

type PostgresDoseRepository struct {
	db *sql.DB
}

func NewPostgresDoseRepository(db *sql.DB) *PostgresDoseRepository {
	return &PostgresDoseRepository{db: db}
}

// --- Dose instances ---

const selectInstanceQuery = `SELECT status, escalation_step, first_fired_at, last_fired_at, updated_at
              FROM dose_instances
              WHERE reminder_id = $1 AND time_of_day = $2 AND dose_date = $3`

// Mutate serializes writers of one key with a transaction-scoped advisory lock,
// which also covers keys that have no row yet.
func (r *PostgresDoseRepository) Mutate(ctx context.Context, key dose.Key, fn dose.MutateFunc) (*dose.Instance, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dose transaction: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	if _, err := txn.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return nil, fmt.Errorf("failed to lock dose %s: %w", key, err)
	}

	current, err := scanInstance(txn.QueryRowContext(ctx, selectInstanceQuery, key.ReminderID, key.Time.String(), key.Date), key)
	if err != nil {
		return nil, fmt.Errorf("error reading dose %s: %w", key, err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		if err := txn.Commit(); err != nil {
			return nil, fmt.Errorf("failed to release dose %s: %w", key, err)
		}
		return current, nil
	}
	next.Key = key

	upsert := `INSERT INTO dose_instances (reminder_id, time_of_day, dose_date, status, escalation_step, first_fired_at, last_fired_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
               ON CONFLICT (reminder_id, time_of_day, dose_date)
               DO UPDATE SET status = EXCLUDED.status,
                             escalation_step = EXCLUDED.escalation_step,
                             first_fired_at = EXCLUDED.first_fired_at,
                             last_fired_at = EXCLUDED.last_fired_at,
                             updated_at = NOW()
               RETURNING updated_at`
	err = txn.QueryRowContext(ctx, upsert,
		key.ReminderID, key.Time.String(), key.Date, string(next.Status), next.EscalationStep,
		nullTime(next.FirstFiredAt), nullTime(next.LastFireAt),
	).Scan(&next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error writing dose %s: %w", key, err)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dose %s: %w", key, err)
	}
	return next, nil
}

func (r *PostgresDoseRepository) GetInstance(ctx context.Context, key dose.Key) (*dose.Instance, error) {
	inst, err := scanInstance(r.db.QueryRowContext(ctx, selectInstanceQuery, key.ReminderID, key.Time.String(), key.Date), key)
	if err != nil {
		return nil, fmt.Errorf("error getting dose %s: %w", key, err)
	}
	if inst == nil {
		return nil, dose.ErrInstanceNotFound
	}
	return inst, nil
}

// scanInstance returns nil without error when the row is missing or its status is unreadable.
func scanInstance(row rowScanner, key dose.Key) (*dose.Instance, error) {
	var (
		status     string
		inst       = dose.Instance{Key: key}
		firstFired sql.NullTime
		lastFired  sql.NullTime
	)
	err := row.Scan(&status, &inst.EscalationStep, &firstFired, &lastFired, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inst.Status, err = dose.ParseStatus(status)
	if err != nil {
		return nil, nil
	}
	inst.FirstFiredAt = timePtr(firstFired)
	inst.LastFireAt = timePtr(lastFired)
	return &inst, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// --- Pending sync actions ---

func (r *PostgresDoseRepository) AppendSyncAction(ctx context.Context, a *dose.SyncAction) error {
	query := `INSERT INTO pending_sync_actions (id, reminder_id, scheduled_time, status, action_at, dose_date)
              VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, a.ID, a.ReminderID, a.ScheduledTime, string(a.Status), a.Timestamp, a.Date)
	if err != nil {
		return fmt.Errorf("error appending sync action: %w", err)
	}
	return nil
}

func (r *PostgresDoseRepository) ListSyncActions(ctx context.Context) ([]*dose.SyncAction, error) {
	query := `SELECT id, reminder_id, scheduled_time, status, action_at, dose_date
              FROM pending_sync_actions ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing sync actions: %w", err)
	}
	defer rows.Close()

	var actions []*dose.SyncAction
	for rows.Next() {
		var (
			a      dose.SyncAction
			status string
		)
		if err := rows.Scan(&a.ID, &a.ReminderID, &a.ScheduledTime, &status, &a.Timestamp, &a.Date); err != nil {
			return nil, fmt.Errorf("error scanning sync action: %w", err)
		}
		a.Status = dose.SyncStatus(status)
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync actions: %w", err)
	}
	return actions, nil
}

func (r *PostgresDoseRepository) ClearSyncActions(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_sync_actions`); err != nil {
		return fmt.Errorf("error clearing sync actions: %w", err)
	}
	return nil
}

// --- Pending caregiver alerts ---

func (r *PostgresDoseRepository) AppendCaregiverAlert(ctx context.Context, a *dose.CaregiverAlert) error {
	query := `INSERT INTO pending_caregiver_alerts
              (id, alert_type, reminder_id, medicine_name, dosage, dose_date, time_of_day, is_critical, household_id, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Type, a.ReminderID, a.MedicineName, a.Dosage, a.Date, a.TimeOfDay, a.IsCritical, a.HouseholdID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending caregiver alert: %w", err)
	}
	return nil
}

func (r *PostgresDoseRepository) ListCaregiverAlerts(ctx context.Context) ([]*dose.CaregiverAlert, error) {
	query := `SELECT id, alert_type, reminder_id, medicine_name, dosage, dose_date, time_of_day, is_critical, household_id, created_at
              FROM pending_caregiver_alerts ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing caregiver alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*dose.CaregiverAlert
	for rows.Next() {
		var a dose.CaregiverAlert
		err := rows.Scan(&a.ID, &a.Type, &a.ReminderID, &a.MedicineName, &a.Dosage, &a.Date, &a.TimeOfDay, &a.IsCritical, &a.HouseholdID, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning caregiver alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating caregiver alerts: %w", err)
	}
	return alerts, nil
}

func (r *PostgresDoseRepository) ClearCaregiverAlerts(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_caregiver_alerts`); err != nil {
		return fmt.Errorf("error clearing caregiver alerts: %w", err)
	}
	return nil
}

var (
	_ dose.Repository     = (*PostgresDoseRepository)(nil)
	_ reminder.Repository = (*PostgresReminderRepository)(nil)
)
