package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medicine_reminder_bot/internal/app"
	"medicine_reminder_bot/internal/domain/dose"
	"medicine_reminder_bot/internal/domain/reminder"
	"medicine_reminder_bot/internal/infra/config"
	idb "medicine_reminder_bot/internal/infra/database"
	"medicine_reminder_bot/internal/infra/device"
	"medicine_reminder_bot/internal/infra/httpapi"
	"medicine_reminder_bot/internal/infra/logger"
	"medicine_reminder_bot/internal/infra/memory"
	"medicine_reminder_bot/internal/infra/metrics"
	"medicine_reminder_bot/internal/infra/outbound"
	"medicine_reminder_bot/internal/infra/scheduler"
	"medicine_reminder_bot/internal/infra/telegram"
	"medicine_reminder_bot/internal/infra/timerqueue"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Medicine Reminder Bot starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.Environment)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"admin_id":    cfg.AdminTelegramID,
		"timezone":    cfg.Location.String(),
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init(prometheus.DefaultRegisterer)

	// Storage: Postgres when configured, otherwise process memory.
	var (
		defs  reminder.Repository
		doses dose.Repository
	)
	if cfg.DatabaseURL != "" {
		db, err := idb.Open(ctx, cfg.DatabaseURL, idb.PoolOptions{})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to database")
		}
		defer db.Close()
		applied, err := idb.Migrate(ctx, db)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not apply database migrations")
		}
		mainLogger.WithField("applied", applied).Info("Database ready")
		defs = idb.NewPostgresReminderRepository(db, logger.Component("reminder_repository"))
		doses = idb.NewPostgresDoseRepository(db)
	} else {
		mainLogger.Warn("DATABASE_URL is not set, reminders and dose state are kept in memory only")
		defs = memory.NewReminderStore()
		doses = memory.NewDoseStore()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to Redis")
	}
	queue := timerqueue.NewQueue(redisClient, cfg.TimerKeyPrefix, cfg.ExactTimers, logger.Component("timer_queue"))
	if !cfg.ExactTimers {
		mainLogger.Warn("Exact timers are disabled, reminders are coalesced to whole minutes")
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler error")
		},
	})
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}
	client := telegram.NewTelebotAdapter(bot)

	caregiverSinks := []outbound.NamedSink{
		{Name: "redis_stream", Sink: outbound.NewRedisStreamSink(redisClient, cfg.CaregiverStream)},
	}
	if cfg.CaregiverTelegramID != 0 {
		caregiverSinks = append(caregiverSinks, outbound.NamedSink{Name: "telegram", Sink: telegram.NewCaregiverSink(client, cfg.CaregiverTelegramID)})
	}
	if cfg.CaregiverWebhookURL != "" {
		caregiverSinks = append(caregiverSinks, outbound.NamedSink{Name: "webhook", Sink: outbound.NewWebhookSink(cfg.CaregiverWebhookURL)})
	}

	notifier := telegram.NewNotifier(client, cfg.PatientTelegramID, logger.Component("notifier"))
	caregiver := outbound.NewAsyncSink(
		outbound.NewMultiSink(logger.Component("caregiver_sink"), caregiverSinks...),
		30*time.Second,
		16,
		logger.Component("caregiver_sink"),
	)
	effects := app.SideEffects{Notifier: notifier, Caregiver: caregiver}

	var feedback *device.Feedback
	if cfg.MQTTBroker != "" {
		mqttClient, err := device.NewClient(device.ClientOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to MQTT broker")
		}
		defer mqttClient.Disconnect(250)
		feedback = device.NewFeedback(mqttClient, cfg.MQTTTopicPrefix, logger.Component("device"))
		effects.Announcer = feedback
		effects.Vibrator = feedback
	} else {
		mainLogger.Info("MQTT_BROKER is not set, speech and vibration are disabled")
	}

	policy := app.EscalationPolicy{
		FollowUpDelay:      cfg.FollowUpDelay,
		EscalationInterval: cfg.EscalationInterval,
		FinalCheckDelay:    cfg.FinalCheckDelay,
		SnoozeDelay:        cfg.SnoozeDelay,
		MaxEscalations:     cfg.MaxEscalations,
		SkipCancelsTimers:  cfg.SkipCancelsTimers,
	}

	reminderScheduler := app.NewReminderScheduler(queue, defs, cfg.Location, logger.Component("reminder_scheduler"))
	engine := app.NewEscalationEngine(doses, queue, effects, policy, cfg.HouseholdID, cfg.Location, logger.Component("escalation_engine"))
	acks := app.NewAcknowledgmentService(doses, defs, queue, notifier, policy, logger.Component("acknowledgment"))
	service := app.NewReminderService(reminderScheduler, acks, defs, doses, cfg.Location, logger.Component("reminder_service"))
	dispatcher := app.NewTimerDispatcher(reminderScheduler, engine, logger.Component("dispatcher"))
	recovery := app.NewRebootRecovery(defs, reminderScheduler, logger.Component("recovery"))

	if n, err := recovery.Recover(ctx); err != nil {
		mainLogger.WithError(err).WithField("rearmed", n).Warn("Some reminders could not be re-armed")
	} else {
		mainLogger.WithField("rearmed", n).Info("Reminders re-armed")
	}

	timerScheduler := scheduler.NewTimerScheduler(
		queue,
		dispatcher,
		recovery,
		logger.Component("scheduler"),
		cfg.Location,
		cfg.TimerPumpSpec,
		cfg.CronSpecReconcile,
	)
	if err := timerScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start timer scheduler")
	}

	telegram.RegisterBotCommands(bot, cfg, logger.Component("telegram"))
	telegram.RegisterReminderHandlers(ctx, bot, service, cfg.AdminTelegramID, logger.Component("telegram"))
	telegram.RegisterDoseResponseHandlers(ctx, bot, service, []int64{cfg.PatientTelegramID, cfg.AdminTelegramID}, logger.Component("telegram"))
	mainLogger.Info("Telegram handlers registered")

	apiServer := httpapi.NewServer(cfg.HTTPAddr, service, cfg.APIJWTSecret, logger.Component("http_api"))
	if cfg.APIJWTSecret == "" {
		mainLogger.Warn("API_JWT_SECRET is not set, the HTTP API accepts unauthenticated requests")
	}
	apiServer.Start()

	mainLogger.Info("Application setup complete. Bot and scheduler are running")
	go bot.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	bot.Stop()
	timerScheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP API did not shut down cleanly")
	}
	if feedback != nil {
		feedback.Flush()
	}
	caregiver.Flush()
	mainLogger.Info("Application shut down gracefully")
}
