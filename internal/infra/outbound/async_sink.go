package outbound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// AsyncSink forwards alerts in the background so a slow or unreachable
// remote sink never holds up the timer handler that raised them. Each
// delivery gets its own deadline. When maxInFlight deliveries are already
// running the alert is not forwarded; it is still in the pending list.
type AsyncSink struct {
	next     notification.CaregiverSink
	timeout  time.Duration
	slots    chan struct{}
	inflight sync.WaitGroup
	logger   *logrus.Entry
}

func NewAsyncSink(next notification.CaregiverSink, timeout time.Duration, maxInFlight int, logger *logrus.Entry) *AsyncSink {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &AsyncSink{
		next:    next,
		timeout: timeout,
		slots:   make(chan struct{}, maxInFlight),
		logger:  logger,
	}
}

// Deliver returns as soon as the alert is handed off. It fails only when
// too many deliveries are in flight.
func (s *AsyncSink) Deliver(ctx context.Context, alert *dose.CaregiverAlert) error {
	select {
	case s.slots <- struct{}{}:
	default:
		return fmt.Errorf("caregiver delivery saturated, alert %s not forwarded", alert.ID)
	}

	// Detached from the caller, which returns before delivery ends.
	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.inflight.Add(1)
	go func() {
		defer func() {
			cancel()
			<-s.slots
			s.inflight.Done()
		}()
		log := s.logger.WithField("alert_id", alert.ID)
		if err := s.next.Deliver(deliveryCtx, alert); err != nil {
			metrics.IncSideEffectFailure("caregiver")
			log.WithError(err).Warn("Caregiver alert delivery failed")
			return
		}
		log.Info("Caregiver alert delivered")
	}()
	return nil
}

// Flush waits for deliveries in flight to finish or hit their deadline.
func (s *AsyncSink) Flush() {
	s.inflight.Wait()
}

var _ notification.CaregiverSink = (*AsyncSink)(nil)
