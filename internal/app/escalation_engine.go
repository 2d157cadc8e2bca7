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

// SideEffects are the outputs of the escalation engine. Any of them may fail
// without affecting dose state.
type SideEffects struct {
	Notifier  notification.Notifier
	Announcer notification.Announcer
	Vibrator  notification.Vibrator
	Caregiver notification.CaregiverSink
}

// EscalationEngine drives a dose from its first fire to Acknowledged, Skipped or Missed.
//
// Each handler reads and writes the dose under the store's per-key lock, arms
// the next timer of the chain and only then runs side effects. Handlers never
// return errors; a trigger that does not apply to the stored state is a no-op.
type EscalationEngine struct {
	store       dose.Repository
	facility    timer.Facility
	effects     SideEffects
	policy      EscalationPolicy
	householdID string
	loc         *time.Location
	now         func() time.Time
	newID       func() string
	logger      *logrus.Entry
}

func NewEscalationEngine(
	store dose.Repository,
	facility timer.Facility,
	effects SideEffects,
	policy EscalationPolicy,
	householdID string,
	loc *time.Location,
	logger *logrus.Entry,
) *EscalationEngine {
	return &EscalationEngine{
		store:       store,
		facility:    facility,
		effects:     effects,
		policy:      policy,
		householdID: householdID,
		loc:         loc,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger,
	}
}

// HandleInitialFire starts (or restarts after a snooze) the chain of a dose.
func (e *EscalationEngine) HandleInitialFire(ctx context.Context, t timer.Timer) {
	def := t.Payload.Definition
	key := t.Payload.Key(e.loc)
	log := e.handlerLog(t, key)
	defer e.recoverPanic(log, t.Payload.Kind)

	now := e.now()
	scheduled := t.Payload.FireAt
	prev, next, err := e.transition(ctx, key, func(cur *dose.Instance) *dose.Instance {
		if cur != nil && cur.Status.IsTerminal() {
			return nil
		}
		if cur != nil && cur.LastFireAt != nil && cur.LastFireAt.Equal(scheduled) {
			return nil // redelivery of a fire already applied
		}
		inst := &dose.Instance{Status: dose.StatusPending, FirstFiredAt: &now, LastFireAt: &scheduled}
		if cur != nil && cur.FirstFiredAt != nil {
			inst.FirstFiredAt = cur.FirstFiredAt
		}
		return inst
	})
	if !e.applied(ctx, log, t, key, prev, next, err) {
		return
	}

	// A restarted chain replaces whatever was still armed for this dose.
	e.cancelChain(ctx, log, key)
	e.arm(ctx, log, timer.FollowUpID(key), now.Add(e.policy.FollowUpDelay), timer.Payload{
		Kind: timer.KindFollowUpCheck, Definition: def, Date: key.Date,
	})

	title, body, urgency := dueNotification(&def)
	e.show(ctx, log, notification.Notification{
		Key: key, Kind: notification.KindDueNow, Title: title, Body: body, Urgency: urgency,
		Actions: []notification.Action{notification.ActionTaken, notification.ActionSnooze, notification.ActionSkip},
	})
	e.speak(ctx, log, &def, dueSpeech(&def), def.IsCritical)
	if def.IsCritical {
		e.vibrate(ctx, log, notification.VibrationUrgent)
	} else {
		e.vibrate(ctx, log, notification.VibrationNormal)
	}
}

// HandleFollowUpCheck is the first overdue reminder; it opens escalation step 1.
func (e *EscalationEngine) HandleFollowUpCheck(ctx context.Context, t timer.Timer) {
	def := t.Payload.Definition
	key := t.Payload.Key(e.loc)
	log := e.handlerLog(t, key)
	defer e.recoverPanic(log, t.Payload.Kind)

	now := e.now()
	prev, next, err := e.transition(ctx, key, func(cur *dose.Instance) *dose.Instance {
		if cur == nil {
			cur = &dose.Instance{Status: dose.StatusPending} // lost state defaults to pending
		}
		if cur.Status != dose.StatusPending {
			return nil
		}
		cur.Status = dose.StatusEscalating
		cur.EscalationStep = 1
		return cur
	})
	if !e.applied(ctx, log, t, key, prev, next, err) {
		return
	}

	if e.policy.MaxEscalations > 1 {
		e.arm(ctx, log, timer.EscalateID(key, 2), now.Add(e.policy.EscalationInterval), timer.Payload{
			Kind: timer.KindEscalate, Definition: def, Date: key.Date, Step: 2,
		})
	}
	e.arm(ctx, log, timer.FinalCheckID(key), now.Add(e.policy.FinalCheckDelay), timer.Payload{
		Kind: timer.KindFinalCheck, Definition: def, Date: key.Date,
	})

	title, body := overdueNotification(&def)
	e.show(ctx, log, notification.Notification{
		Key: key, Kind: notification.KindOverdue, Title: title, Body: body, Urgency: notification.UrgencyHigh,
		Actions: []notification.Action{notification.ActionTaken, notification.ActionSkip},
	})
	e.speak(ctx, log, &def, missedSpeech(&def, def.IsCritical), def.IsCritical)
	e.vibrate(ctx, log, notification.VibrationUrgent)

	if e.policy.MaxEscalations <= 1 {
		e.finalize(ctx, log, t, key)
	}
}

// HandleEscalate repeats the overdue reminder with rising urgency. The last
// allowed step finalizes the dose as missed.
func (e *EscalationEngine) HandleEscalate(ctx context.Context, t timer.Timer) {
	def := t.Payload.Definition
	key := t.Payload.Key(e.loc)
	step := t.Payload.Step
	log := e.handlerLog(t, key)
	defer e.recoverPanic(log, t.Payload.Kind)

	if step < 1 || step > e.policy.MaxEscalations {
		log.Warn("Escalation step out of range, ignoring")
		metrics.ObserveTimerFire(string(t.Payload.Kind), metrics.ResultDuplicate)
		return
	}

	now := e.now()
	prev, next, err := e.transition(ctx, key, func(cur *dose.Instance) *dose.Instance {
		if cur == nil {
			cur = &dose.Instance{Status: dose.StatusPending}
		}
		if cur.Status.IsTerminal() || cur.EscalationStep >= step {
			return nil
		}
		cur.Status = dose.StatusEscalating
		cur.EscalationStep = step
		return cur
	})
	if !e.applied(ctx, log, t, key, prev, next, err) {
		return
	}

	if step < e.policy.MaxEscalations {
		e.arm(ctx, log, timer.EscalateID(key, step+1), now.Add(e.policy.EscalationInterval), timer.Payload{
			Kind: timer.KindEscalate, Definition: def, Date: key.Date, Step: step + 1,
		})
	}

	title, body := urgentNotification(&def, e.policy.minutesOverdue(step))
	e.show(ctx, log, notification.Notification{
		Key: key, Kind: notification.KindUrgentOverdue, Title: title, Body: body, Urgency: notification.UrgencyCritical,
		Actions: []notification.Action{notification.ActionTaken, notification.ActionSkip},
	})
	// Speech turns urgent from the third escalation (an hour overdue by default).
	urgent := step >= 3 || def.IsCritical
	e.speak(ctx, log, &def, missedSpeech(&def, urgent), urgent)
	e.vibrate(ctx, log, notification.VibrationUrgent)

	if step >= e.policy.MaxEscalations {
		e.finalize(ctx, log, t, key)
	}
}

// HandleFinalCheck marks the dose missed unless it was taken or skipped.
func (e *EscalationEngine) HandleFinalCheck(ctx context.Context, t timer.Timer) {
	key := t.Payload.Key(e.loc)
	log := e.handlerLog(t, key)
	defer e.recoverPanic(log, t.Payload.Kind)

	e.finalize(ctx, log, t, key)
}

func (e *EscalationEngine) finalize(ctx context.Context, log *logrus.Entry, t timer.Timer, key dose.Key) {
	def := t.Payload.Definition
	prev, next, err := e.transition(ctx, key, func(cur *dose.Instance) *dose.Instance {
		if cur == nil {
			cur = &dose.Instance{Status: dose.StatusPending}
		}
		if cur.Status.IsTerminal() {
			return nil
		}
		cur.Status = dose.StatusMissed
		return cur
	})
	if !e.applied(ctx, log, timer.Timer{ID: t.ID, Payload: timer.Payload{Kind: timer.KindFinalCheck}}, key, prev, next, err) {
		return
	}

	e.cancelChain(ctx, log, key)
	snoozeID := timer.SnoozeID(key)
	if err := e.facility.Cancel(ctx, snoozeID); err != nil {
		log.WithError(err).WithField("timer_id", snoozeID).Warn("Failed to cancel timer")
	}

	title, body := missedNotification(&def)
	e.show(ctx, log, notification.Notification{
		Key: key, Kind: notification.KindMissed, Title: title, Body: body, Urgency: notification.UrgencyNormal,
		Actions: []notification.Action{notification.ActionTaken},
	})
	e.raiseCaregiverAlert(ctx, log, &def, key)
	e.recordSync(ctx, log, key, dose.SyncMissed)
	e.speak(ctx, log, &def, missedSpeech(&def, true), true)
}

func (e *EscalationEngine) raiseCaregiverAlert(ctx context.Context, log *logrus.Entry, def *reminder.Definition, key dose.Key) {
	alert := &dose.CaregiverAlert{
		ID:           e.newID(),
		Type:         dose.AlertTypeMedicineMissed,
		ReminderID:   key.ReminderID,
		MedicineName: def.Name,
		Dosage:       def.Dosage,
		Date:         key.Date,
		TimeOfDay:    key.Time.String(),
		IsCritical:   def.IsCritical,
		HouseholdID:  e.householdID,
		CreatedAt:    e.now(),
	}
	metrics.IncCaregiverAlert(alert.IsCritical)
	if err := e.store.AppendCaregiverAlert(ctx, alert); err != nil {
		log.WithError(err).Error("Failed to persist caregiver alert")
	}
	if e.effects.Caregiver == nil {
		return
	}
	if err := e.effects.Caregiver.Deliver(ctx, alert); err != nil {
		metrics.IncSideEffectFailure("caregiver")
		log.WithError(err).Warn("Caregiver alert delivery failed")
		return
	}
	log.WithField("alert_id", alert.ID).Info("Caregiver alert dispatched")
}

func (e *EscalationEngine) recordSync(ctx context.Context, log *logrus.Entry, key dose.Key, status dose.SyncStatus) {
	err := e.store.AppendSyncAction(ctx, &dose.SyncAction{
		ID:            e.newID(),
		ReminderID:    key.ReminderID,
		ScheduledTime: key.Time.String(),
		Status:        status,
		Timestamp:     e.now(),
		Date:          key.Date,
	})
	if err != nil {
		log.WithError(err).Error("Failed to record sync action")
	}
}

// transition runs decide under the store lock. decide returns nil when the
// trigger does not apply. prev is the state before the call.
func (e *EscalationEngine) transition(ctx context.Context, key dose.Key, decide func(cur *dose.Instance) *dose.Instance) (prev, next *dose.Instance, err error) {
	_, err = e.store.Mutate(ctx, key, func(cur *dose.Instance) (*dose.Instance, error) {
		prev = cur.Clone()
		next = decide(cur)
		return next, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return prev, next, nil
}

// applied logs the outcome of a transition and reports whether the handler
// should continue with timers and side effects.
func (e *EscalationEngine) applied(ctx context.Context, log *logrus.Entry, t timer.Timer, key dose.Key, prev, next *dose.Instance, err error) bool {
	kind := string(t.Payload.Kind)
	if err != nil {
		metrics.ObserveTimerFire(kind, metrics.ResultFailed)
		log.WithError(err).Error("Failed to update dose state")
		return false
	}
	if next == nil {
		metrics.ObserveTimerFire(kind, metrics.ResultDuplicate)
		if prev != nil && prev.Status == dose.StatusAcknowledged {
			e.cancelChain(ctx, log, key)
		}
		status := "none"
		if prev != nil {
			status = string(prev.Status)
		}
		log.WithField("status", status).Debug("Trigger does not apply to current dose state, skipping")
		return false
	}
	metrics.ObserveTimerFire(kind, metrics.ResultHandled)
	metrics.IncTransition(string(next.Status))
	log.WithFields(logrus.Fields{"status": next.Status, "step": next.EscalationStep}).Info("Dose state updated")
	return true
}

func (e *EscalationEngine) cancelChain(ctx context.Context, log *logrus.Entry, key dose.Key) {
	for _, id := range timer.ChainIDs(key, e.policy.MaxEscalations) {
		if err := e.facility.Cancel(ctx, id); err != nil {
			log.WithError(err).WithField("timer_id", id).Warn("Failed to cancel timer")
		}
	}
}

func (e *EscalationEngine) arm(ctx context.Context, log *logrus.Entry, id string, at time.Time, p timer.Payload) {
	p.FireAt = at
	if err := e.facility.Arm(ctx, id, at, p); err != nil {
		log.WithError(err).WithField("timer_id", id).Error("Failed to arm escalation timer")
	}
}

func (e *EscalationEngine) show(ctx context.Context, log *logrus.Entry, n notification.Notification) {
	if e.effects.Notifier == nil {
		return
	}
	if err := e.effects.Notifier.Show(ctx, n); err != nil {
		metrics.IncSideEffectFailure("notification")
		log.WithError(err).Warn("Failed to show notification")
	}
}

func (e *EscalationEngine) speak(ctx context.Context, log *logrus.Entry, def *reminder.Definition, text string, urgent bool) {
	if e.effects.Announcer == nil || !def.VoiceEnabled {
		return
	}
	if err := e.effects.Announcer.Speak(ctx, text, urgent); err != nil {
		metrics.IncSideEffectFailure("speech")
		log.WithError(err).Warn("Failed to announce reminder")
	}
}

func (e *EscalationEngine) vibrate(ctx context.Context, log *logrus.Entry, pattern []time.Duration) {
	if e.effects.Vibrator == nil {
		return
	}
	if err := e.effects.Vibrator.Vibrate(ctx, pattern); err != nil {
		metrics.IncSideEffectFailure("vibration")
		log.WithError(err).Warn("Failed to vibrate")
	}
}

func (e *EscalationEngine) handlerLog(t timer.Timer, key dose.Key) *logrus.Entry {
	fields := logrus.Fields{
		"kind":        t.Payload.Kind,
		"reminder_id": key.ReminderID,
		"time":        key.Time.String(),
		"date":        key.Date,
	}
	if t.Payload.Step > 0 {
		fields["step"] = t.Payload.Step
	}
	return e.logger.WithFields(fields)
}

func (e *EscalationEngine) recoverPanic(log *logrus.Entry, kind timer.Kind) {
	if r := recover(); r != nil {
		metrics.ObserveTimerFire(string(kind), metrics.ResultFailed)
		log.WithField("panic", fmt.Sprint(r)).Error("Recovered from panic in timer handler")
	}
}
