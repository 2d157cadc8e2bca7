package app

import (
	"context"
	"fmt"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/domain/reminder"
	"medicine_reminder_bot/internal/domain/timer"
	"medicine_reminder_bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDoseSettled is returned when snoozing a dose that was already taken, skipped or missed.
var ErrDoseSettled = fmt.Errorf("dose is already settled")

// AcknowledgmentService applies the care-recipient's answers to a dose.
type AcknowledgmentService struct {
	store    dose.Repository
	defs     reminder.Repository
	facility timer.Facility
	notifier notification.Notifier
	policy   EscalationPolicy
	now      func() time.Time
	newID    func() string
	logger   *logrus.Entry
}

func NewAcknowledgmentService(
	store dose.Repository,
	defs reminder.Repository,
	facility timer.Facility,
	notifier notification.Notifier,
	policy EscalationPolicy,
	logger *logrus.Entry,
) *AcknowledgmentService {
	return &AcknowledgmentService{
		store:    store,
		defs:     defs,
		facility: facility,
		notifier: notifier,
		policy:   policy,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// Acknowledge marks the dose as taken. A dose that already reached another
// terminal status keeps it, but the TAKEN record is still written so the host
// app learns the dose was taken late.
func (s *AcknowledgmentService) Acknowledge(ctx context.Context, key dose.Key) (*dose.Instance, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	log := s.keyLog(key)

	now := s.now()
	alreadyTaken := false
	inst, err := s.store.Mutate(ctx, key, func(cur *dose.Instance) (*dose.Instance, error) {
		if cur == nil {
			return &dose.Instance{Status: dose.StatusAcknowledged, FirstFiredAt: &now}, nil
		}
		if cur.Status.IsTerminal() {
			alreadyTaken = cur.Status == dose.StatusAcknowledged
			return nil, nil
		}
		cur.Status = dose.StatusAcknowledged
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge dose %s: %w", key, err)
	}

	s.cancelTimers(ctx, log, key)
	s.dismiss(ctx, log, key)

	if alreadyTaken {
		log.Debug("Dose already acknowledged")
		return inst, nil
	}
	if inst.Status == dose.StatusAcknowledged {
		metrics.IncTransition(string(dose.StatusAcknowledged))
	}
	s.recordSync(ctx, log, key, dose.SyncTaken)
	log.WithField("status", inst.Status).Info("Dose marked as taken")
	return inst, nil
}

// Snooze re-arms the dose as a fresh InitialFire after the snooze delay and
// returns when it will fire. def may be nil, it is then loaded from the store.
func (s *AcknowledgmentService) Snooze(ctx context.Context, key dose.Key, def *reminder.Definition) (time.Time, error) {
	if err := key.Validate(); err != nil {
		return time.Time{}, err
	}
	log := s.keyLog(key)

	if def == nil {
		stored, err := s.defs.GetDefinition(ctx, key.ReminderID, key.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to load reminder for snooze: %w", err)
		}
		def = stored
	}

	inst, err := s.store.GetInstance(ctx, key)
	switch {
	case err == nil && inst.Status.IsTerminal():
		return time.Time{}, fmt.Errorf("%w: %s", ErrDoseSettled, inst.Status)
	case err != nil && err != dose.ErrInstanceNotFound:
		return time.Time{}, fmt.Errorf("failed to read dose %s: %w", key, err)
	}

	at := s.now().Add(s.policy.SnoozeDelay)
	payload := timer.Payload{Kind: timer.KindInitialFire, Definition: *def, Date: key.Date, FireAt: at}
	if err := s.facility.Arm(ctx, timer.SnoozeID(key), at, payload); err != nil {
		return time.Time{}, fmt.Errorf("failed to arm snooze timer: %w", err)
	}

	s.recordSync(ctx, log, key, dose.SyncSnoozed)
	s.dismiss(ctx, log, key)
	log.WithField("fire_at", at.Format(time.RFC3339)).Info("Dose snoozed")
	return at, nil
}

// Skip settles the dose as deliberately not taken.
func (s *AcknowledgmentService) Skip(ctx context.Context, key dose.Key) (*dose.Instance, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	log := s.keyLog(key)

	now := s.now()
	changed := false
	inst, err := s.store.Mutate(ctx, key, func(cur *dose.Instance) (*dose.Instance, error) {
		if cur == nil {
			cur = &dose.Instance{FirstFiredAt: &now}
		}
		if cur.Status.IsTerminal() {
			return nil, nil
		}
		cur.Status = dose.StatusSkipped
		changed = true
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to skip dose %s: %w", key, err)
	}

	if s.policy.SkipCancelsTimers {
		s.cancelTimers(ctx, log, key)
	}
	s.dismiss(ctx, log, key)

	if !changed {
		log.WithField("status", inst.Status).Debug("Dose already settled, skip ignored")
		return inst, nil
	}
	metrics.IncTransition(string(dose.StatusSkipped))
	s.recordSync(ctx, log, key, dose.SyncSkipped)
	log.Info("Dose skipped")
	return inst, nil
}

func (s *AcknowledgmentService) cancelTimers(ctx context.Context, log *logrus.Entry, key dose.Key) {
	ids := append(timer.ChainIDs(key, s.policy.MaxEscalations), timer.SnoozeID(key))
	for _, id := range ids {
		if err := s.facility.Cancel(ctx, id); err != nil {
			log.WithError(err).WithField("timer_id", id).Warn("Failed to cancel timer")
		}
	}
}

func (s *AcknowledgmentService) dismiss(ctx context.Context, log *logrus.Entry, key dose.Key) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dismiss(ctx, key); err != nil {
		metrics.IncSideEffectFailure("notification")
		log.WithError(err).Warn("Failed to dismiss notification")
	}
}

func (s *AcknowledgmentService) recordSync(ctx context.Context, log *logrus.Entry, key dose.Key, status dose.SyncStatus) {
	err := s.store.AppendSyncAction(ctx, &dose.SyncAction{
		ID:            s.newID(),
		ReminderID:    key.ReminderID,
		ScheduledTime: key.Time.String(),
		Status:        status,
		Timestamp:     s.now(),
		Date:          key.Date,
	})
	if err != nil {
		log.WithError(err).Error("Failed to record sync action")
	}
}

func (s *AcknowledgmentService) keyLog(key dose.Key) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"reminder_id": key.ReminderID,
		"time":        key.Time.String(),
		"date":        key.Date,
	})
}
