package outbound

import (
	"context"
	"errors"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// NamedSink labels a sink for logs.
type NamedSink struct {
	Name string
	Sink notification.CaregiverSink
}

// MultiSink delivers an alert to every sink, even when some of them fail.
type MultiSink struct {
	sinks  []NamedSink
	logger *logrus.Entry
}

func NewMultiSink(logger *logrus.Entry, sinks ...NamedSink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

func (m *MultiSink) Deliver(ctx context.Context, alert *dose.CaregiverAlert) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Deliver(ctx, alert); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{"sink": s.Name, "alert_id": alert.ID}).Warn("Caregiver sink failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ notification.CaregiverSink = (*MultiSink)(nil)
