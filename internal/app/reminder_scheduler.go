package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medicine_reminder_bot/internal/domain/reminder"
	"medicine_reminder_bot/internal/domain/timer"

	"github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

// ReminderScheduler owns the recurring daily timer of every reminder definition.
type ReminderScheduler struct {
	facility timer.Facility
	defs     reminder.Repository
	loc      *time.Location
	now      func() time.Time
	logger   *logrus.Entry
}

func NewReminderScheduler(facility timer.Facility, defs reminder.Repository, loc *time.Location, logger *logrus.Entry) *ReminderScheduler {
	return &ReminderScheduler{
		facility: facility,
		defs:     defs,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// NextTrigger returns the first occurrence of at in loc strictly after the given instant.
func NextTrigger(at reminder.TimeOfDay, after time.Time, loc *time.Location) (time.Time, error) {
	local := after.In(loc)
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Dtstart:  time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc),
		Byhour:   []int{at.Hour},
		Byminute: []int{at.Minute},
		Bysecond: []int{0},
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to build daily rule for %s: %w", at, err)
	}
	next := rule.After(after, false)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no occurrence of %s after %s", at, after.Format(time.RFC3339))
	}
	return next, nil
}

// Arm persists def and (re)arms its daily timer for the next occurrence.
// Calling it again for the same definition leaves exactly one timer armed.
func (s *ReminderScheduler) Arm(ctx context.Context, def *reminder.Definition) (time.Time, error) {
	if err := def.Validate(); err != nil {
		return time.Time{}, err
	}
	log := s.logger.WithFields(logrus.Fields{"reminder_id": def.ID, "time": def.Time.String()})

	next, err := NextTrigger(def.Time, s.now(), s.loc)
	if err != nil {
		return time.Time{}, err
	}

	// Saved before arming so a fire always finds its definition.
	if err := s.defs.SaveDefinition(ctx, def); err != nil {
		return time.Time{}, fmt.Errorf("failed to persist reminder definition: %w", err)
	}

	if !s.facility.CanScheduleExact() {
		log.Warn("Exact timers unavailable, reminder may fire up to a minute late")
	}
	payload := timer.Payload{Kind: timer.KindInitialFire, Definition: *def, FireAt: next}
	if err := s.facility.Arm(ctx, timer.DailyID(def.ID, def.Time), next, payload); err != nil {
		return time.Time{}, fmt.Errorf("failed to arm daily timer: %w", err)
	}

	log.WithField("next_fire", next.Format(time.RFC3339)).Info("Reminder armed")
	return next, nil
}

// Restore re-arms the daily timer of a stored definition. A timer still armed
// for the previous occurrence is kept so a fire that came due while the
// process was down is delivered instead of skipped to the next day.
func (s *ReminderScheduler) Restore(ctx context.Context, def *reminder.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	next, err := NextTrigger(def.Time, s.now(), s.loc)
	if err != nil {
		return err
	}

	payload := timer.Payload{Kind: timer.KindInitialFire, Definition: *def, FireAt: next}
	armed, err := s.facility.ArmUnlessPending(ctx, timer.DailyID(def.ID, def.Time), next, next.AddDate(0, 0, -1), payload)
	if err != nil {
		return fmt.Errorf("failed to restore daily timer: %w", err)
	}
	if !armed {
		s.logger.WithFields(logrus.Fields{"reminder_id": def.ID, "time": def.Time.String()}).
			Debug("Daily timer still pending, kept")
	}
	return nil
}

// Cancel stops future fires of one reminder time. An escalation chain already
// running for today's dose is left alone.
func (s *ReminderScheduler) Cancel(ctx context.Context, id string, at reminder.TimeOfDay) error {
	if err := s.facility.Cancel(ctx, timer.DailyID(id, at)); err != nil {
		return err
	}
	if err := s.defs.DeleteDefinition(ctx, id, at); err != nil {
		return fmt.Errorf("failed to delete reminder definition: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"reminder_id": id, "time": at.String()}).Info("Reminder cancelled")
	return nil
}

// CancelAll cancels every time registered for a medicine and returns how many were removed.
func (s *ReminderScheduler) CancelAll(ctx context.Context, id string) (int, error) {
	defs, err := s.defs.ListDefinitionsByReminder(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to list reminder times: %w", err)
	}
	cancelled := 0
	for _, def := range defs {
		if err := s.Cancel(ctx, def.ID, def.Time); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// OnBaseFire re-arms a daily timer that just fired and returns the current
// definition for the fire. It returns false when the definition was removed
// in the meantime and the fire should be dropped. A failed re-arm is only logged.
func (s *ReminderScheduler) OnBaseFire(ctx context.Context, t timer.Timer) (*reminder.Definition, bool) {
	def := t.Payload.Definition
	log := s.logger.WithFields(logrus.Fields{"reminder_id": def.ID, "time": def.Time.String()})

	stored, err := s.defs.GetDefinition(ctx, def.ID, def.Time)
	switch {
	case errors.Is(err, reminder.ErrDefinitionNotFound):
		log.Info("Reminder was cancelled, dropping stale fire")
		return nil, false
	case err != nil:
		log.WithError(err).Warn("Could not reload reminder definition, using the armed payload")
	default:
		def = *stored
	}

	after := s.now()
	if t.Payload.FireAt.After(after) {
		after = t.Payload.FireAt
	}
	next, err := NextTrigger(def.Time, after, s.loc)
	if err == nil {
		payload := timer.Payload{Kind: timer.KindInitialFire, Definition: def, FireAt: next}
		err = s.facility.Arm(ctx, timer.DailyID(def.ID, def.Time), next, payload)
	}
	if err != nil {
		log.WithError(err).Error("Failed to re-arm daily reminder, it will be restored by the next reconcile")
	}
	return &def, true
}

// NextFire reports when a definition fires next; used by listings.
func (s *ReminderScheduler) NextFire(def *reminder.Definition) (time.Time, error) {
	return NextTrigger(def.Time, s.now(), s.loc)
}

func (s *ReminderScheduler) CanScheduleExact() bool {
	return s.facility.CanScheduleExact()
}
