package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// Application-level errors returned to callers of ReminderService.
var ErrMissingParameter = fmt.Errorf("missing required parameter")
var ErrInvalidParameter = fmt.Errorf("invalid parameter")

// ScheduleRequest is the inbound form of a reminder. Time is used by
// ScheduleReminder and Times by ScheduleMedicineReminders.
type ScheduleRequest struct {
	MedicineID   string   `json:"medicineId"`
	MedicineName string   `json:"medicineName"`
	Dosage       string   `json:"dosage"`
	Time         string   `json:"time,omitempty"`
	Times        []string `json:"times,omitempty"`
	IsCritical   bool     `json:"isCritical"`
	Instructions string   `json:"instructions,omitempty"`
	VoiceEnabled bool     `json:"voiceReminderEnabled"`
}

type ScheduleResult struct {
	Success    bool      `json:"success"`
	ReminderID string    `json:"reminderId"`
	Time       string    `json:"time"`
	NextFireAt time.Time `json:"nextFireAt"`
}

type BatchResult struct {
	Success        bool   `json:"success"`
	ReminderID     string `json:"reminderId"`
	ScheduledCount int    `json:"scheduledCount"`
}

// ScheduledReminder is a stored definition with its next fire time.
type ScheduledReminder struct {
	reminder.Definition
	NextFireAt time.Time `json:"nextFireAt"`
}

// ReminderService is the inbound call interface used by the HTTP API and the bot.
type ReminderService struct {
	scheduler *ReminderScheduler
	acks      *AcknowledgmentService
	defs      reminder.Repository
	doses     dose.Repository
	loc       *time.Location
	now       func() time.Time
	logger    *logrus.Entry
}

func NewReminderService(
	scheduler *ReminderScheduler,
	acks *AcknowledgmentService,
	defs reminder.Repository,
	doses dose.Repository,
	loc *time.Location,
	logger *logrus.Entry,
) *ReminderService {
	return &ReminderService{
		scheduler: scheduler,
		acks:      acks,
		defs:      defs,
		doses:     doses,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *ReminderService) ScheduleReminder(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	if req.Time == "" {
		return ScheduleResult{}, fmt.Errorf("%w: time", ErrMissingParameter)
	}
	defs, err := definitionsFor(req, []string{req.Time})
	if err != nil {
		return ScheduleResult{}, err
	}
	next, err := s.scheduler.Arm(ctx, defs[0])
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("failed to schedule reminder: %w", err)
	}
	return ScheduleResult{Success: true, ReminderID: req.MedicineID, Time: defs[0].Time.String(), NextFireAt: next}, nil
}

// ScheduleMedicineReminders arms one reminder per time. Every time is
// validated before anything is armed.
func (s *ReminderService) ScheduleMedicineReminders(ctx context.Context, req ScheduleRequest) (BatchResult, error) {
	if len(req.Times) == 0 {
		return BatchResult{}, fmt.Errorf("%w: times", ErrMissingParameter)
	}
	defs, err := definitionsFor(req, req.Times)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{ReminderID: req.MedicineID}
	for _, def := range defs {
		if _, err := s.scheduler.Arm(ctx, def); err != nil {
			return res, fmt.Errorf("failed to schedule reminder at %s: %w", def.Time, err)
		}
		res.ScheduledCount++
	}
	res.Success = true
	return res, nil
}

func definitionsFor(req ScheduleRequest, times []string) ([]*reminder.Definition, error) {
	if strings.TrimSpace(req.MedicineID) == "" {
		return nil, fmt.Errorf("%w: medicineId", ErrMissingParameter)
	}
	if len(req.MedicineID) > reminder.MaxIDLength {
		return nil, fmt.Errorf("%w: medicineId longer than %d bytes", ErrInvalidParameter, reminder.MaxIDLength)
	}
	if strings.TrimSpace(req.MedicineName) == "" {
		return nil, fmt.Errorf("%w: medicineName", ErrMissingParameter)
	}
	defs := make([]*reminder.Definition, 0, len(times))
	seen := make(map[reminder.TimeOfDay]bool, len(times))
	for _, raw := range times {
		at, err := reminder.ParseTimeOfDay(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: time %q", ErrInvalidParameter, raw)
		}
		if seen[at] {
			continue
		}
		seen[at] = true
		defs = append(defs, &reminder.Definition{
			ID:           req.MedicineID,
			Name:         req.MedicineName,
			Dosage:       req.Dosage,
			Time:         at,
			IsCritical:   req.IsCritical,
			Instructions: req.Instructions,
			VoiceEnabled: req.VoiceEnabled,
		})
	}
	return defs, nil
}

func (s *ReminderService) CancelReminder(ctx context.Context, id, at string) error {
	if id == "" {
		return fmt.Errorf("%w: medicineId", ErrMissingParameter)
	}
	t, err := reminder.ParseTimeOfDay(at)
	if err != nil {
		return fmt.Errorf("%w: time %q", ErrInvalidParameter, at)
	}
	return s.scheduler.Cancel(ctx, id, t)
}

func (s *ReminderService) CancelMedicineReminders(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: medicineId", ErrMissingParameter)
	}
	return s.scheduler.CancelAll(ctx, id)
}

// DoseKey builds a dose key from inbound strings. An empty date means today.
func (s *ReminderService) DoseKey(id, at, date string) (dose.Key, error) {
	if id == "" {
		return dose.Key{}, fmt.Errorf("%w: medicineId", ErrMissingParameter)
	}
	if at == "" {
		return dose.Key{}, fmt.Errorf("%w: scheduledTime", ErrMissingParameter)
	}
	t, err := reminder.ParseTimeOfDay(at)
	if err != nil {
		return dose.Key{}, fmt.Errorf("%w: scheduledTime %q", ErrInvalidParameter, at)
	}
	if date == "" {
		date = s.now().In(s.loc).Format(dose.DateLayout)
	}
	key := dose.Key{ReminderID: id, Time: t, Date: date}
	if err := key.Validate(); err != nil {
		return dose.Key{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return key, nil
}

// MarkTaken acknowledges a dose reported by the host app.
func (s *ReminderService) MarkTaken(ctx context.Context, id, at, date string) (*dose.Instance, error) {
	key, err := s.DoseKey(id, at, date)
	if err != nil {
		return nil, err
	}
	return s.acks.Acknowledge(ctx, key)
}

func (s *ReminderService) Snooze(ctx context.Context, key dose.Key) (time.Time, error) {
	return s.acks.Snooze(ctx, key, nil)
}

func (s *ReminderService) Skip(ctx context.Context, key dose.Key) (*dose.Instance, error) {
	return s.acks.Skip(ctx, key)
}

// GetDoseStatus returns the stored dose, or a Pending instance when nothing
// has happened to it yet.
func (s *ReminderService) GetDoseStatus(ctx context.Context, key dose.Key) (*dose.Instance, error) {
	inst, err := s.doses.GetInstance(ctx, key)
	if errors.Is(err, dose.ErrInstanceNotFound) {
		return &dose.Instance{Key: key, Status: dose.StatusPending}, nil
	}
	return inst, err
}

func (s *ReminderService) GetPendingSyncActions(ctx context.Context) ([]*dose.SyncAction, error) {
	return s.doses.ListSyncActions(ctx)
}

func (s *ReminderService) ClearPendingSyncActions(ctx context.Context) error {
	return s.doses.ClearSyncActions(ctx)
}

func (s *ReminderService) GetPendingCaregiverAlerts(ctx context.Context) ([]*dose.CaregiverAlert, error) {
	return s.doses.ListCaregiverAlerts(ctx)
}

func (s *ReminderService) ClearPendingCaregiverAlerts(ctx context.Context) error {
	return s.doses.ClearCaregiverAlerts(ctx)
}

func (s *ReminderService) CanScheduleExactTimers() bool {
	return s.scheduler.CanScheduleExact()
}

func (s *ReminderService) ListScheduledReminders(ctx context.Context) ([]ScheduledReminder, error) {
	defs, err := s.defs.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	out := make([]ScheduledReminder, 0, len(defs))
	for _, def := range defs {
		next, err := s.scheduler.NextFire(def)
		if err != nil {
			s.logger.WithError(err).WithField("reminder_id", def.ID).Warn("Could not compute next fire")
		}
		out = append(out, ScheduledReminder{Definition: *def, NextFireAt: next})
	}
	return out, nil
}
