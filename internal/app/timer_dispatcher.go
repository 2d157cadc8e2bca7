package app

import (
	"context"
	"fmt"

	"medicine_reminder_bot/internal/domain/timer"
	"medicine_reminder_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// TimerDispatcher routes fired timers to the scheduler and the escalation engine.
type TimerDispatcher struct {
	scheduler *ReminderScheduler
	engine    *EscalationEngine
	logger    *logrus.Entry
}

func NewTimerDispatcher(scheduler *ReminderScheduler, engine *EscalationEngine, logger *logrus.Entry) *TimerDispatcher {
	return &TimerDispatcher{scheduler: scheduler, engine: engine, logger: logger}
}

func (d *TimerDispatcher) HandleTimer(ctx context.Context, t timer.Timer) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveTimerFire(string(t.Payload.Kind), metrics.ResultFailed)
			d.logger.WithFields(logrus.Fields{"timer_id": t.ID, "panic": fmt.Sprint(r)}).Error("Recovered from panic while dispatching timer")
		}
	}()

	switch t.Payload.Kind {
	case timer.KindInitialFire:
		if t.Payload.IsDaily() {
			def, ok := d.scheduler.OnBaseFire(ctx, t)
			if !ok {
				metrics.ObserveTimerFire(string(t.Payload.Kind), metrics.ResultDuplicate)
				return
			}
			t.Payload.Definition = *def
		}
		d.engine.HandleInitialFire(ctx, t)
	case timer.KindFollowUpCheck:
		d.engine.HandleFollowUpCheck(ctx, t)
	case timer.KindEscalate:
		d.engine.HandleEscalate(ctx, t)
	case timer.KindFinalCheck:
		d.engine.HandleFinalCheck(ctx, t)
	default:
		d.logger.WithFields(logrus.Fields{"timer_id": t.ID, "kind": t.Payload.Kind}).Warn("Unknown timer kind, dropping")
	}
}

var _ timer.Handler = (*TimerDispatcher)(nil)
