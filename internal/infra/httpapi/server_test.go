package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medicine_reminder_bot/internal/app"
	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/infra/memory"
	"medicine_reminder_bot/internal/infra/timerqueue"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) Show(context.Context, notification.Notification) error { return nil }
func (nopNotifier) Dismiss(context.Context, dose.Key) error               { return nil }

func newTestServer(t *testing.T, secret string) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	defs := memory.NewReminderStore()
	doses := memory.NewDoseStore()
	queue := timerqueue.NewQueue(client, "test:timers", true, entry)

	scheduler := app.NewReminderScheduler(queue, defs, time.UTC, entry)
	acks := app.NewAcknowledgmentService(doses, defs, queue, nopNotifier{}, app.DefaultEscalationPolicy(), entry)
	service := app.NewReminderService(scheduler, acks, defs, doses, time.UTC, entry)
	return NewServer(":0", service, secret, entry).Handler(), mr
}

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestScheduleReminderArmsDailyTimer(t *testing.T) {
	h, mr := newTestServer(t, "")

	rec := do(t, h, http.MethodPost, "/v1/reminders", map[string]any{
		"medicineId":   "med-1",
		"medicineName": "Aspirin",
		"dosage":       "100mg",
		"time":         "08:00",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "08:00", body["time"])

	members, err := mr.ZMembers("test:timers:due")
	require.NoError(t, err)
	assert.Contains(t, members, "daily:med-1|08:00")
}

func TestScheduleReminderValidation(t *testing.T) {
	h, _ := newTestServer(t, "")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"missing time", map[string]any{"medicineId": "m", "medicineName": "n"}, http.StatusBadRequest},
		{"missing id", map[string]any{"medicineName": "n", "time": "08:00"}, http.StatusBadRequest},
		{"bad time", map[string]any{"medicineId": "m", "medicineName": "n", "time": "25:00"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/reminders", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestBatchScheduleAndList(t *testing.T) {
	h, _ := newTestServer(t, "")

	rec := do(t, h, http.MethodPost, "/v1/reminders/batch", map[string]any{
		"medicineId":   "med-1",
		"medicineName": "Metformin",
		"times":        []string{"08:00", "20:00", "08:00"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["scheduledCount"])

	rec = do(t, h, http.MethodGet, "/v1/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["reminders"], 2)
	assert.Equal(t, true, body["canScheduleExact"])

	rec = do(t, h, http.MethodDelete, "/v1/reminders/med-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["cancelledCount"])

	rec = do(t, h, http.MethodGet, "/v1/reminders", nil)
	assert.Empty(t, decodeBody(t, rec)["reminders"])
}

func TestMarkTakenRecordsSyncAction(t *testing.T) {
	h, _ := newTestServer(t, "")

	rec := do(t, h, http.MethodPost, "/v1/doses/taken", map[string]any{
		"medicineId": "med-1", "scheduledTime": "08:00", "date": "2026-10-15",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(dose.StatusAcknowledged), decodeBody(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/v1/doses/med-1/08:00/2026-10-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(dose.StatusAcknowledged), decodeBody(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/v1/sync-actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var actions []dose.SyncAction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, dose.SyncTaken, actions[0].Status)
	assert.Equal(t, "2026-10-15", actions[0].Date)

	rec = do(t, h, http.MethodDelete, "/v1/sync-actions", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/sync-actions", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSnoozeSettledDoseConflicts(t *testing.T) {
	h, _ := newTestServer(t, "")
	do(t, h, http.MethodPost, "/v1/reminders", map[string]any{"medicineId": "med-1", "medicineName": "Aspirin", "time": "08:00"})
	req := map[string]any{"medicineId": "med-1", "scheduledTime": "08:00", "date": "2026-10-15"}

	rec := do(t, h, http.MethodPost, "/v1/doses/taken", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/doses/snooze", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSnoozeUnknownReminderNotFound(t *testing.T) {
	h, _ := newTestServer(t, "")
	rec := do(t, h, http.MethodPost, "/v1/doses/snooze", map[string]any{"medicineId": "nope", "scheduledTime": "08:00"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownDoseIsPending(t *testing.T) {
	h, _ := newTestServer(t, "")
	rec := do(t, h, http.MethodGet, "/v1/doses/med-1/09:30/2026-10-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(dose.StatusPending), body["status"])
	assert.EqualValues(t, 0, body["escalationStep"])
}

func TestCaregiverAlertsStartEmpty(t *testing.T) {
	h, _ := newTestServer(t, "")
	rec := do(t, h, http.MethodGet, "/v1/caregiver-alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/v1/caregiver-alerts", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestJWTRequiredWhenSecretSet(t *testing.T) {
	const secret = "s3cret"
	h, _ := newTestServer(t, secret)

	rec := do(t, h, http.MethodGet, "/v1/timers/exact", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/timers/exact", nil, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sign := func(key string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "host-app",
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		s, err := tok.SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}

	rec = do(t, h, http.MethodGet, "/v1/timers/exact", nil, "Authorization", "Bearer "+sign("other", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/timers/exact", nil, "Authorization", "Bearer "+sign(secret, time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/timers/exact", nil, "Authorization", "Bearer "+sign(secret, time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["canScheduleExact"])
}

func TestHealthzIsOpen(t *testing.T) {
	h, _ := newTestServer(t, "secret")
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseTokenRejectsMissingExpiry(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"})
	s, err := tok.SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = parseToken(s, []byte("k"))
	assert.Error(t, err)
}
