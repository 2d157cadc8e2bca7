package scheduler

import (
	"context"
	"time"

	"medicine_reminder_bot/internal/domain/timer"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TimerSource hands due timers to a handler, e.g. timerqueue.Queue.
type TimerSource interface {
	Poll(ctx context.Context, now time.Time, limit int64, h timer.Handler) (int, error)
}

// Reconciler re-arms every stored reminder.
type Reconciler interface {
	Recover(ctx context.Context) (int, error)
}

const maxPumpRounds = 10

// TimerScheduler runs the cron jobs of the service: the pump that delivers
// due timers and the daily reconcile.
type TimerScheduler struct {
	cronEngine        *cron.Cron
	source            TimerSource
	handler           timer.Handler
	reconciler        Reconciler
	logger            *logrus.Entry
	cronSpecPump      string
	cronSpecReconcile string
	batchSize         int64
	now               func() time.Time
}

func NewTimerScheduler(
	source TimerSource,
	handler timer.Handler,
	reconciler Reconciler,
	logger *logrus.Entry,
	loc *time.Location,
	cronSpecPump string, // e.g. "@every 1s"
	cronSpecReconcile string, // e.g. "0 3 * * *"
) *TimerScheduler {
	cronLog := cron.PrintfLogger(logger)
	return &TimerScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			// A slow round must not overlap the next one.
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		source:            source,
		handler:           handler,
		reconciler:        reconciler,
		logger:            logger,
		cronSpecPump:      cronSpecPump,
		cronSpecReconcile: cronSpecReconcile,
		batchSize:         100,
		now:               time.Now,
	}
}

// Start registers the jobs and starts cron. A bad cron spec is returned
// instead of aborting the process.
func (s *TimerScheduler) Start() error {
	s.logger.Info("Starting timer scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecPump, s.pump); err != nil {
		return err
	}
	if _, err := s.cronEngine.AddFunc(s.cronSpecReconcile, s.reconcile); err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{"pump": s.cronSpecPump, "reconcile": s.cronSpecReconcile}).Info("Timer scheduler started with jobs.")
	return nil
}

// pump drains due timers one batch at a time, up to maxPumpRounds batches per tick.
func (s *TimerScheduler) pump() {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	total := 0
	for round := 0; round < maxPumpRounds; round++ {
		n, err := s.source.Poll(ctx, s.now(), s.batchSize, s.handler)
		total += n
		if err != nil {
			s.logger.WithError(err).Error("Error while polling due timers")
			break
		}
		if int64(n) < s.batchSize {
			break
		}
	}
	if total > 0 {
		s.logger.WithField("count", total).Debug("Delivered due timers")
	}
}

func (s *TimerScheduler) reconcile() {
	s.logger.Info("Cron job triggered for daily reminder reconcile.")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	armed, err := s.reconciler.Recover(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Some reminders could not be re-armed")
	}
	s.logger.WithField("armed", armed).Info("Daily reconcile finished")
}

func (s *TimerScheduler) Stop() {
	s.logger.Info("Stopping timer scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Timer scheduler gracefully stopped.")
}
