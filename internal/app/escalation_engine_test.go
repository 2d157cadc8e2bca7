package app

import (
	"errors"
	"testing"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/domain/timer"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoseTakenOnTime(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	h.advanceTo("08:05")
	require.Equal(t, []notification.Kind{notification.KindDueNow}, h.notifier.kinds())
	due := h.notifier.last()
	assert.Equal(t, "💊 Aspirin", due.Title)
	assert.Equal(t, "100mg at 08:00", due.Body)
	assert.Equal(t, []notification.Action{notification.ActionTaken, notification.ActionSnooze, notification.ActionSkip}, due.Actions)
	assert.Equal(t, dose.StatusPending, h.status(t, key).Status)

	followUp, ok := h.facility.get(timer.FollowUpID(key))
	require.True(t, ok)
	assert.True(t, at("08:30").Equal(followUp.FireAt))

	inst, err := h.acks.Acknowledge(h.ctx, key)
	require.NoError(t, err)
	assert.Equal(t, dose.StatusAcknowledged, inst.Status)

	h.advanceTo("10:00")
	assert.Equal(t, []notification.Kind{notification.KindDueNow}, h.notifier.kinds())
	assert.Equal(t, []dose.SyncStatus{dose.SyncTaken}, h.syncStatuses(t))
	assert.Equal(t, []dose.Key{key}, h.notifier.dismissed)
	assert.Equal(t, []string{timer.DailyID("med-1", key.Time)}, h.facility.ids())
	assert.Empty(t, h.alerts(t))
}

func TestDoseNeverAcknowledgedEndsMissed(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	h.advanceTo("10:00")

	assert.Equal(t, []notification.Kind{
		notification.KindDueNow,
		notification.KindOverdue,
		notification.KindUrgentOverdue,
		notification.KindMissed,
	}, h.notifier.kinds())

	inst := h.status(t, key)
	assert.Equal(t, dose.StatusMissed, inst.Status)
	assert.LessOrEqual(t, inst.EscalationStep, DefaultEscalationPolicy().MaxEscalations)

	alerts := h.alerts(t)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, dose.AlertTypeMedicineMissed, alert.Type)
	assert.Equal(t, "med-1", alert.ReminderID)
	assert.Equal(t, "Aspirin", alert.MedicineName)
	assert.Equal(t, "08:00", alert.TimeOfDay)
	assert.Equal(t, "2026-10-15", alert.Date)
	assert.Equal(t, "household-1", alert.HouseholdID)
	assert.Len(t, h.sink.delivered, 1)

	assert.Equal(t, []dose.SyncStatus{dose.SyncMissed}, h.syncStatuses(t))
	assert.Equal(t, []string{timer.DailyID("med-1", key.Time)}, h.facility.ids())

	missed := h.notifier.last()
	assert.Equal(t, "❌ MISSED: Aspirin", missed.Title)
	assert.Equal(t, notification.UrgencyNormal, missed.Urgency)

	require.Len(t, h.announcer.spoken, 4)
	assert.False(t, h.announcer.spoken[2].urgent)
	assert.True(t, h.announcer.spoken[3].urgent)
	assert.Contains(t, h.announcer.spoken[3].text, "Urgent! You have missed your medicine.")
}

func TestSnoozeRestartsChain(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	h.advanceTo("08:05")
	fireAt, err := h.service.Snooze(h.ctx, key)
	require.NoError(t, err)
	assert.True(t, at("08:20").Equal(fireAt))
	assert.Equal(t, dose.StatusPending, h.status(t, key).Status)

	h.advanceTo("08:25")
	assert.Equal(t, []notification.Kind{notification.KindDueNow, notification.KindDueNow}, h.notifier.kinds())

	inst := h.status(t, key)
	assert.Equal(t, dose.StatusPending, inst.Status)
	require.NotNil(t, inst.FirstFiredAt)
	assert.True(t, at("08:00").Equal(*inst.FirstFiredAt))

	followUp, ok := h.facility.get(timer.FollowUpID(key))
	require.True(t, ok)
	assert.True(t, at("08:50").Equal(followUp.FireAt))

	_, err = h.acks.Acknowledge(h.ctx, key)
	require.NoError(t, err)
	h.advanceTo("10:00")

	assert.Len(t, h.notifier.shown, 2)
	assert.Equal(t, []dose.SyncStatus{dose.SyncSnoozed, dose.SyncTaken}, h.syncStatuses(t))
	assert.Empty(t, h.alerts(t))
}

func TestAcknowledgeWhileEscalating(t *testing.T) {
	for _, ackAt := range []string{"08:40", "08:50"} {
		t.Run(ackAt, func(t *testing.T) {
			h := newHarness(t, DefaultEscalationPolicy())
			key := h.schedule(t, aspirin())

			h.advanceTo(ackAt)
			require.Equal(t, dose.StatusEscalating, h.status(t, key).Status)
			shown := len(h.notifier.shown)

			inst, err := h.acks.Acknowledge(h.ctx, key)
			require.NoError(t, err)
			assert.Equal(t, dose.StatusAcknowledged, inst.Status)

			h.advanceTo("10:00")
			assert.Len(t, h.notifier.shown, shown)
			assert.Equal(t, dose.StatusAcknowledged, h.status(t, key).Status)
			assert.Empty(t, h.alerts(t))
			assert.Empty(t, h.sink.delivered)
			assert.Equal(t, []dose.SyncStatus{dose.SyncTaken}, h.syncStatuses(t))
			assert.Equal(t, []string{timer.DailyID("med-1", key.Time)}, h.facility.ids())
		})
	}
}

func TestSnoozeWhileEscalating(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	h.advanceTo("08:40")
	require.Equal(t, dose.StatusEscalating, h.status(t, key).Status)
	fireAt, err := h.service.Snooze(h.ctx, key)
	require.NoError(t, err)
	assert.True(t, at("08:55").Equal(fireAt))

	// The running chain keeps going until the snoozed fire restarts it.
	h.advanceTo("09:10")
	assert.Equal(t, []notification.Kind{
		notification.KindDueNow,
		notification.KindOverdue,
		notification.KindUrgentOverdue,
		notification.KindDueNow,
	}, h.notifier.kinds())

	inst := h.status(t, key)
	assert.Equal(t, dose.StatusPending, inst.Status)
	assert.Zero(t, inst.EscalationStep)
	assert.Equal(t, []string{timer.DailyID("med-1", key.Time), timer.FollowUpID(key)}, h.facility.ids())

	followUp, _ := h.facility.get(timer.FollowUpID(key))
	assert.True(t, at("09:25").Equal(followUp.FireAt))

	_, err = h.acks.Acknowledge(h.ctx, key)
	require.NoError(t, err)
	h.advanceTo("11:00")

	assert.Len(t, h.notifier.shown, 4)
	assert.Equal(t, dose.StatusAcknowledged, h.status(t, key).Status)
	assert.Equal(t, []dose.SyncStatus{dose.SyncSnoozed, dose.SyncTaken}, h.syncStatuses(t))
	assert.Equal(t, []string{timer.DailyID("med-1", key.Time)}, h.facility.ids())
	assert.Empty(t, h.alerts(t))
}

func TestSkipStopsEscalation(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	h.advanceTo("08:05")
	inst, err := h.service.Skip(h.ctx, key)
	require.NoError(t, err)
	assert.Equal(t, dose.StatusSkipped, inst.Status)

	// The follow-up stays armed and is ignored when it fires.
	_, armed := h.facility.get(timer.FollowUpID(key))
	assert.True(t, armed)

	h.advanceTo("10:00")
	assert.Equal(t, []notification.Kind{notification.KindDueNow}, h.notifier.kinds())
	assert.Equal(t, dose.StatusSkipped, h.status(t, key).Status)
	assert.Equal(t, []dose.SyncStatus{dose.SyncSkipped}, h.syncStatuses(t))
	assert.Empty(t, h.alerts(t))
}

func TestSkipCanCancelTimers(t *testing.T) {
	policy := DefaultEscalationPolicy()
	policy.SkipCancelsTimers = true
	h := newHarness(t, policy)
	key := h.schedule(t, aspirin())

	h.advanceTo("08:05")
	_, err := h.acks.Skip(h.ctx, key)
	require.NoError(t, err)

	_, armed := h.facility.get(timer.FollowUpID(key))
	assert.False(t, armed)
}

func TestDuplicateInitialFireIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	fired, ok := h.facility.next(at("08:00"))
	require.True(t, ok)
	h.clock.Set(at("08:00"))

	h.dispatcher.HandleTimer(h.ctx, fired)
	h.clock.Set(at("08:01"))
	h.dispatcher.HandleTimer(h.ctx, fired)

	assert.Len(t, h.notifier.shown, 1)
	followUp, ok := h.facility.get(timer.FollowUpID(key))
	require.True(t, ok)
	assert.True(t, at("08:30").Equal(followUp.FireAt))
}

func TestDuplicateFollowUpIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())
	h.advanceTo("08:00")

	fired, ok := h.facility.next(at("08:30"))
	require.True(t, ok)
	h.clock.Set(at("08:30"))
	h.engine.HandleFollowUpCheck(h.ctx, fired)
	h.engine.HandleFollowUpCheck(h.ctx, fired)

	assert.Equal(t, []notification.Kind{notification.KindDueNow, notification.KindOverdue}, h.notifier.kinds())
	inst := h.status(t, key)
	assert.Equal(t, dose.StatusEscalating, inst.Status)
	assert.Equal(t, 1, inst.EscalationStep)
}

func TestLateTriggerAfterAcknowledgeCancelsChain(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	def := aspirin()
	key := h.schedule(t, def)
	h.advanceTo("08:05")

	_, err := h.acks.Acknowledge(h.ctx, key)
	require.NoError(t, err)

	// A timer that escaped cancellation still fires.
	stale := timer.Payload{Kind: timer.KindEscalate, Definition: def, Date: key.Date, Step: 2, FireAt: at("08:45")}
	require.NoError(t, h.facility.Arm(h.ctx, timer.EscalateID(key, 2), at("08:45"), stale))
	h.advanceTo("09:00")

	assert.Equal(t, dose.StatusAcknowledged, h.status(t, key).Status)
	assert.Len(t, h.notifier.shown, 1)
	assert.Equal(t, []string{timer.DailyID("med-1", key.Time)}, h.facility.ids())
}

func TestEscalateOutOfRangeIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	def := aspirin()
	key := h.schedule(t, def)

	for _, step := range []int{0, 5} {
		h.engine.HandleEscalate(h.ctx, timer.Timer{
			ID:      timer.EscalateID(key, step),
			Payload: timer.Payload{Kind: timer.KindEscalate, Definition: def, Date: key.Date, Step: step},
		})
	}

	_, err := h.doses.GetInstance(h.ctx, key)
	assert.ErrorIs(t, err, dose.ErrInstanceNotFound)
	assert.Empty(t, h.notifier.shown)
}

func TestLastEscalationStepFinalizes(t *testing.T) {
	policy := DefaultEscalationPolicy()
	policy.MaxEscalations = 3
	policy.FinalCheckDelay = 3 * time.Hour
	h := newHarness(t, policy)
	key := h.schedule(t, aspirin())

	h.advanceTo("12:00")

	assert.Equal(t, []notification.Kind{
		notification.KindDueNow,
		notification.KindOverdue,
		notification.KindUrgentOverdue,
		notification.KindUrgentOverdue,
		notification.KindMissed,
	}, h.notifier.kinds())
	assert.Equal(t, "🔴 URGENT: Aspirin - 60min overdue!", h.notifier.shown[3].Title)

	inst := h.status(t, key)
	assert.Equal(t, dose.StatusMissed, inst.Status)
	assert.Equal(t, 3, inst.EscalationStep)
	assert.Len(t, h.alerts(t), 1)
	assert.Equal(t, []dose.SyncStatus{dose.SyncMissed}, h.syncStatuses(t))
}

func TestSingleEscalationFinalizesOnFollowUp(t *testing.T) {
	policy := DefaultEscalationPolicy()
	policy.MaxEscalations = 1
	h := newHarness(t, policy)
	key := h.schedule(t, aspirin())

	h.advanceTo("08:30")

	assert.Equal(t, []notification.Kind{
		notification.KindDueNow,
		notification.KindOverdue,
		notification.KindMissed,
	}, h.notifier.kinds())
	assert.Equal(t, dose.StatusMissed, h.status(t, key).Status)
	_, armed := h.facility.get(timer.FinalCheckID(key))
	assert.False(t, armed)

	h.advanceTo("10:00")
	assert.Len(t, h.alerts(t), 1)
}

func TestFinalCheckWithoutStoredDose(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	def := aspirin()
	key := dose.Key{ReminderID: def.ID, Time: def.Time, Date: "2026-10-15"}
	h.clock.Set(at("09:00"))

	fired := timer.Timer{
		ID:      timer.FinalCheckID(key),
		Payload: timer.Payload{Kind: timer.KindFinalCheck, Definition: def, Date: key.Date},
	}
	h.engine.HandleFinalCheck(h.ctx, fired)
	h.engine.HandleFinalCheck(h.ctx, fired)

	assert.Equal(t, dose.StatusMissed, h.status(t, key).Status)
	assert.Len(t, h.alerts(t), 1)
}

func TestCaregiverDeliveryFailureKeepsAlert(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	h.sink.err = errors.New("stream unavailable")
	h.notifier.showErr = errors.New("chat not found")
	key := h.schedule(t, aspirin())

	h.advanceTo("10:00")

	assert.Equal(t, dose.StatusMissed, h.status(t, key).Status)
	assert.Len(t, h.alerts(t), 1)
	assert.Len(t, h.sink.delivered, 1)
}

func TestCriticalDoseIsLouder(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	def := aspirin()
	def.IsCritical = true
	h.schedule(t, def)

	h.advanceTo("08:00")

	due := h.notifier.last()
	assert.Equal(t, "🔴 CRITICAL: Aspirin", due.Title)
	assert.Equal(t, notification.UrgencyCritical, due.Urgency)
	require.Len(t, h.vibrator.patterns, 1)
	assert.Equal(t, notification.VibrationUrgent, h.vibrator.patterns[0])
	require.Len(t, h.announcer.spoken, 1)
	assert.Equal(t, "Attention! Critical medication alert. Time to take Aspirin, 100mg.", h.announcer.spoken[0].text)
}

func TestVoiceDisabledStaysSilent(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	def := aspirin()
	def.VoiceEnabled = false
	h.schedule(t, def)

	h.advanceTo("10:00")

	assert.Empty(t, h.announcer.spoken)
	assert.Len(t, h.vibrator.patterns, 3)
}

func TestUrgentSpeechStartsAtThirdEscalation(t *testing.T) {
	policy := DefaultEscalationPolicy()
	policy.FinalCheckDelay = time.Hour
	h := newHarness(t, policy)
	key := h.schedule(t, aspirin())

	h.advanceTo("10:00")

	assert.Equal(t, dose.StatusMissed, h.status(t, key).Status)
	require.GreaterOrEqual(t, len(h.announcer.spoken), 4)
	assert.False(t, h.announcer.spoken[1].urgent)
	assert.False(t, h.announcer.spoken[2].urgent, "45 minutes overdue")
	assert.True(t, h.announcer.spoken[3].urgent, "an hour overdue")
}

func TestFinalizeLogsFailedSnoozeCancel(t *testing.T) {
	h := newHarness(t, DefaultEscalationPolicy())
	key := h.schedule(t, aspirin())

	h.advanceTo("08:59")
	h.facility.cancelErr = errors.New("redis: connection refused")
	h.advanceTo("10:00")

	assert.Equal(t, dose.StatusMissed, h.status(t, key).Status)
	var found bool
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["timer_id"] == timer.SnoozeID(key) {
			found = true
			assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "redis: connection refused")
		}
	}
	assert.True(t, found, "failed snooze cancel is logged")
}
