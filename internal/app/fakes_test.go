package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/domain/reminder"
	"medicine_reminder_bot/internal/domain/timer"
	"medicine_reminder_bot/internal/infra/memory"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type armedTimer struct {
	timer.Timer
	seq int
}

// fakeFacility keeps armed timers in memory and fires them against a fakeClock.
type fakeFacility struct {
	mu      sync.Mutex
	clock   *fakeClock
	timers  map[string]armedTimer
	seq     int
	exact   bool
	armErr    error
	cancelErr error
	cancels   []string
}

func newFakeFacility(clock *fakeClock) *fakeFacility {
	return &fakeFacility{clock: clock, timers: make(map[string]armedTimer), exact: true}
}

func (f *fakeFacility) Arm(_ context.Context, id string, at time.Time, payload timer.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armErr != nil {
		return f.armErr
	}
	f.seq++
	f.timers[id] = armedTimer{Timer: timer.Timer{ID: id, FireAt: at, Payload: payload}, seq: f.seq}
	return nil
}

func (f *fakeFacility) ArmUnlessPending(ctx context.Context, id string, at, notBefore time.Time, payload timer.Payload) (bool, error) {
	f.mu.Lock()
	cur, ok := f.timers[id]
	f.mu.Unlock()
	if ok && !cur.FireAt.Before(notBefore) && !cur.FireAt.After(at) {
		return false, nil
	}
	return true, f.Arm(ctx, id, at, payload)
}

func (f *fakeFacility) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	delete(f.timers, id)
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeFacility) CanScheduleExact() bool { return f.exact }

func (f *fakeFacility) get(id string) (timer.Timer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.timers[id]
	return t.Timer, ok
}

func (f *fakeFacility) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.timers))
	for id := range f.timers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// next pops the earliest timer due at or before until. Ties fire in arm order.
func (f *fakeFacility) next(until time.Time) (timer.Timer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		best  armedTimer
		found bool
	)
	for _, t := range f.timers {
		if t.FireAt.After(until) {
			continue
		}
		if !found || t.FireAt.Before(best.FireAt) || (t.FireAt.Equal(best.FireAt) && t.seq < best.seq) {
			best, found = t, true
		}
	}
	if found {
		delete(f.timers, best.ID)
	}
	return best.Timer, found
}

// advance fires every timer due up to until in order, moving the clock to
// each fire time, and leaves the clock at until.
func (f *fakeFacility) advance(ctx context.Context, h timer.Handler, until time.Time) {
	for {
		t, ok := f.next(until)
		if !ok {
			break
		}
		f.clock.Set(t.FireAt)
		h.HandleTimer(ctx, t)
	}
	f.clock.Set(until)
}

type fakeNotifier struct {
	mu        sync.Mutex
	shown     []notification.Notification
	dismissed []dose.Key
	showErr   error
}

func (n *fakeNotifier) Show(_ context.Context, note notification.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, note)
	return n.showErr
}

func (n *fakeNotifier) Dismiss(_ context.Context, key dose.Key) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed = append(n.dismissed, key)
	return nil
}

func (n *fakeNotifier) kinds() []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Kind, 0, len(n.shown))
	for _, s := range n.shown {
		out = append(out, s.Kind)
	}
	return out
}

func (n *fakeNotifier) last() notification.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shown[len(n.shown)-1]
}

type speech struct {
	text   string
	urgent bool
}

type fakeAnnouncer struct {
	mu     sync.Mutex
	spoken []speech
}

func (a *fakeAnnouncer) Speak(_ context.Context, text string, urgent bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spoken = append(a.spoken, speech{text: text, urgent: urgent})
	return nil
}

type fakeVibrator struct {
	mu       sync.Mutex
	patterns [][]time.Duration
}

func (v *fakeVibrator) Vibrate(_ context.Context, pattern []time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.patterns = append(v.patterns, pattern)
	return nil
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []*dose.CaregiverAlert
	err       error
}

func (s *fakeSink) Deliver(_ context.Context, alert *dose.CaregiverAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, alert)
	return s.err
}

// failingDefs fails every listing.
type failingDefs struct {
	reminder.Repository
}

func (failingDefs) ListDefinitions(context.Context) ([]*reminder.Definition, error) {
	return nil, errors.New("connection refused")
}

var day = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	t := reminder.MustParseTimeOfDay(hhmm)
	return day.Add(time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute)
}

type harness struct {
	ctx        context.Context
	clock      *fakeClock
	facility   *fakeFacility
	defs       *memory.ReminderStore
	doses      *memory.DoseStore
	notifier   *fakeNotifier
	announcer  *fakeAnnouncer
	vibrator   *fakeVibrator
	sink       *fakeSink
	scheduler  *ReminderScheduler
	engine     *EscalationEngine
	acks       *AcknowledgmentService
	service    *ReminderService
	dispatcher *TimerDispatcher
	recovery   *RebootRecovery
	hook       *test.Hook
}

func newHarness(t *testing.T, policy EscalationPolicy) *harness {
	t.Helper()
	nullLogger, hook := test.NewNullLogger()
	log := logrus.NewEntry(nullLogger)

	h := &harness{
		ctx:       context.Background(),
		clock:     &fakeClock{now: at("07:00")},
		defs:      memory.NewReminderStore(),
		doses:     memory.NewDoseStore(),
		notifier:  &fakeNotifier{},
		announcer: &fakeAnnouncer{},
		vibrator:  &fakeVibrator{},
		sink:      &fakeSink{},
		hook:      hook,
	}
	h.facility = newFakeFacility(h.clock)

	ids := 0
	newID := func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	h.scheduler = NewReminderScheduler(h.facility, h.defs, time.UTC, log)
	h.scheduler.now = h.clock.Now

	effects := SideEffects{Notifier: h.notifier, Announcer: h.announcer, Vibrator: h.vibrator, Caregiver: h.sink}
	h.engine = NewEscalationEngine(h.doses, h.facility, effects, policy, "household-1", time.UTC, log)
	h.engine.now = h.clock.Now
	h.engine.newID = newID

	h.acks = NewAcknowledgmentService(h.doses, h.defs, h.facility, h.notifier, policy, log)
	h.acks.now = h.clock.Now
	h.acks.newID = newID

	h.service = NewReminderService(h.scheduler, h.acks, h.defs, h.doses, time.UTC, log)
	h.service.now = h.clock.Now

	h.dispatcher = NewTimerDispatcher(h.scheduler, h.engine, log)
	h.recovery = NewRebootRecovery(h.defs, h.scheduler, log)
	return h
}

func (h *harness) schedule(t *testing.T, def reminder.Definition) dose.Key {
	t.Helper()
	_, err := h.scheduler.Arm(h.ctx, &def)
	require.NoError(t, err)
	return dose.Key{ReminderID: def.ID, Time: def.Time, Date: day.Format(dose.DateLayout)}
}

func (h *harness) advanceTo(hhmm string) {
	h.facility.advance(h.ctx, h.dispatcher, at(hhmm))
}

func (h *harness) status(t *testing.T, key dose.Key) *dose.Instance {
	t.Helper()
	inst, err := h.doses.GetInstance(h.ctx, key)
	require.NoError(t, err)
	return inst
}

func (h *harness) syncStatuses(t *testing.T) []dose.SyncStatus {
	t.Helper()
	actions, err := h.doses.ListSyncActions(h.ctx)
	require.NoError(t, err)
	out := make([]dose.SyncStatus, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Status)
	}
	return out
}

func (h *harness) alerts(t *testing.T) []*dose.CaregiverAlert {
	t.Helper()
	alerts, err := h.doses.ListCaregiverAlerts(h.ctx)
	require.NoError(t, err)
	return alerts
}

func aspirin() reminder.Definition {
	return reminder.Definition{
		ID:           "med-1",
		Name:         "Aspirin",
		Dosage:       "100mg",
		Time:         reminder.MustParseTimeOfDay("08:00"),
		VoiceEnabled: true,
	}
}
