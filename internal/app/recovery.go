package app

import (
	"context"
	"errors"
	"fmt"

	"medicine_reminder_bot/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// RebootRecovery re-arms the daily timer of every stored reminder. A daily
// timer that is still pending for its previous occurrence is left to fire.
// Escalation chains that were in flight are not rebuilt here; their timers
// live in the durable queue.
type RebootRecovery struct {
	defs      reminder.Repository
	scheduler *ReminderScheduler
	logger    *logrus.Entry
}

func NewRebootRecovery(defs reminder.Repository, scheduler *ReminderScheduler, logger *logrus.Entry) *RebootRecovery {
	return &RebootRecovery{defs: defs, scheduler: scheduler, logger: logger}
}

// Recover returns how many reminders were armed. Failed arms are skipped and
// reported together in the returned error.
func (r *RebootRecovery) Recover(ctx context.Context) (int, error) {
	defs, err := r.defs.ListDefinitions(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list reminders for recovery, nothing re-armed")
		return 0, nil
	}

	armed := 0
	var errs []error
	for _, def := range defs {
		if err := r.scheduler.Restore(ctx, def); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"reminder_id": def.ID,
				"time":        def.Time.String(),
			}).Warn("Failed to re-arm reminder")
			errs = append(errs, fmt.Errorf("%s@%s: %w", def.ID, def.Time, err))
			continue
		}
		armed++
	}

	r.logger.WithFields(logrus.Fields{"armed": armed, "failed": len(errs)}).Info("Reminder recovery finished")
	return armed, errors.Join(errs...)
}
