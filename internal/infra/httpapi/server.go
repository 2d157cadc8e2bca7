package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"medicine_reminder_bot/internal/app"
	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/reminder"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes ReminderService over JSON/HTTP for the host app.
type Server struct {
	service *app.ReminderService
	logger  *logrus.Entry
	srv     *http.Server
}

func NewServer(addr string, service *app.ReminderService, jwtSecret string, logger *logrus.Entry) *Server {
	s := &Server{service: service, logger: logger}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes([]byte(jwtSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background. A listener failure is logged.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.srv.Addr).Info("HTTP API listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP API stopped unexpectedly")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes(secret []byte) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/reminders", s.scheduleReminder)
	api.HandleFunc("POST /v1/reminders/batch", s.scheduleMedicineReminders)
	api.HandleFunc("GET /v1/reminders", s.listReminders)
	api.HandleFunc("DELETE /v1/reminders/{medicineId}/{time}", s.cancelReminder)
	api.HandleFunc("DELETE /v1/reminders/{medicineId}", s.cancelMedicineReminders)
	api.HandleFunc("POST /v1/doses/taken", s.markTaken)
	api.HandleFunc("POST /v1/doses/snooze", s.snooze)
	api.HandleFunc("POST /v1/doses/skip", s.skip)
	api.HandleFunc("GET /v1/doses/{medicineId}/{time}/{date}", s.doseStatus)
	api.HandleFunc("GET /v1/sync-actions", s.listSyncActions)
	api.HandleFunc("DELETE /v1/sync-actions", s.clearSyncActions)
	api.HandleFunc("GET /v1/caregiver-alerts", s.listCaregiverAlerts)
	api.HandleFunc("DELETE /v1/caregiver-alerts", s.clearCaregiverAlerts)
	api.HandleFunc("GET /v1/timers/exact", s.exactTimers)

	mux := http.NewServeMux()
	mux.Handle("/v1/", requireJWT(secret, api))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type doseRequest struct {
	MedicineID    string `json:"medicineId"`
	ScheduledTime string `json:"scheduledTime"`
	Date          string `json:"date,omitempty"`
}

type doseResponse struct {
	ReminderID     string      `json:"medicineId"`
	ScheduledTime  string      `json:"scheduledTime"`
	Date           string      `json:"date"`
	Status         dose.Status `json:"status"`
	EscalationStep int         `json:"escalationStep"`
}

func toDoseResponse(inst *dose.Instance) doseResponse {
	return doseResponse{
		ReminderID:     inst.Key.ReminderID,
		ScheduledTime:  inst.Key.Time.String(),
		Date:           inst.Key.Date,
		Status:         inst.Status,
		EscalationStep: inst.EscalationStep,
	}
}

func (s *Server) scheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req app.ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.service.ScheduleReminder(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) scheduleMedicineReminders(w http.ResponseWriter, r *http.Request) {
	var req app.ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.service.ScheduleMedicineReminders(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListScheduledReminders(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reminders":        list,
		"canScheduleExact": s.service.CanScheduleExactTimers(),
	})
}

func (s *Server) cancelReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelReminder(r.Context(), r.PathValue("medicineId"), r.PathValue("time")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) cancelMedicineReminders(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.CancelMedicineReminders(r.Context(), r.PathValue("medicineId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cancelledCount": n})
}

func (s *Server) markTaken(w http.ResponseWriter, r *http.Request) {
	var req doseRequest
	if !decode(w, r, &req) {
		return
	}
	inst, err := s.service.MarkTaken(r.Context(), req.MedicineID, req.ScheduledTime, req.Date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoseResponse(inst))
}

func (s *Server) snooze(w http.ResponseWriter, r *http.Request) {
	key, ok := s.doseKey(w, r)
	if !ok {
		return
	}
	at, err := s.service.Snooze(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fireAt": at})
}

func (s *Server) skip(w http.ResponseWriter, r *http.Request) {
	key, ok := s.doseKey(w, r)
	if !ok {
		return
	}
	inst, err := s.service.Skip(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoseResponse(inst))
}

func (s *Server) doseKey(w http.ResponseWriter, r *http.Request) (dose.Key, bool) {
	var req doseRequest
	if !decode(w, r, &req) {
		return dose.Key{}, false
	}
	key, err := s.service.DoseKey(req.MedicineID, req.ScheduledTime, req.Date)
	if err != nil {
		s.fail(w, r, err)
		return dose.Key{}, false
	}
	return key, true
}

func (s *Server) doseStatus(w http.ResponseWriter, r *http.Request) {
	key, err := s.service.DoseKey(r.PathValue("medicineId"), r.PathValue("time"), r.PathValue("date"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	inst, err := s.service.GetDoseStatus(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoseResponse(inst))
}

func (s *Server) listSyncActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.service.GetPendingSyncActions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []*dose.SyncAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) clearSyncActions(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearPendingSyncActions(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCaregiverAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.service.GetPendingCaregiverAlerts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*dose.CaregiverAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) clearCaregiverAlerts(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearPendingCaregiverAlerts(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exactTimers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"canScheduleExact": s.service.CanScheduleExactTimers()})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrMissingParameter), errors.Is(err, app.ErrInvalidParameter),
		errors.Is(err, dose.ErrInvalidKey), errors.Is(err, reminder.ErrEmptyID),
		errors.Is(err, reminder.ErrEmptyName), errors.Is(err, reminder.ErrInvalidTimeOfDay):
		status = http.StatusBadRequest
	case errors.Is(err, reminder.ErrDefinitionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrDoseSettled):
		status = http.StatusConflict
	}
	log := s.logger.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "status": status})
	if status == http.StatusInternalServerError {
		log.Error("Request failed")
		writeError(w, status, errors.New("internal error"))
		return
	}
	log.Info("Request rejected")
	writeError(w, status, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
