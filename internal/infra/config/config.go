package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken       string
	AdminTelegramID     int64
	PatientTelegramID   int64 // chat that receives dose notifications
	CaregiverTelegramID int64 // chat that receives missed-dose alerts, 0 disables it

	DatabaseURL string // empty selects the in-memory store

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	TimerKeyPrefix string
	ExactTimers    bool

	TimerPumpSpec     string // how often due timers are polled
	CronSpecReconcile string // daily re-arm of every stored definition
	Location          *time.Location

	MQTTBroker      string // empty disables speech and vibration
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	CaregiverStream     string
	CaregiverWebhookURL string
	HouseholdID         string

	HTTPAddr     string
	APIJWTSecret string

	SkipCancelsTimers  bool
	MaxEscalations     int
	EscalationInterval time.Duration
	FollowUpDelay      time.Duration
	FinalCheckDelay    time.Duration
	SnoozeDelay        time.Duration

	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables that are already set.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	if cfg.AdminTelegramID, err = requiredInt64("ADMIN_TELEGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.PatientTelegramID, err = requiredInt64("PATIENT_TELEGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.CaregiverTelegramID, err = optionalInt64("CAREGIVER_TELEGRAM_ID", 0); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is not set")
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = optionalInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.TimerKeyPrefix = stringOr("TIMER_KEY_PREFIX", "medreminder:timers")
	if cfg.ExactTimers, err = optionalBool("EXACT_TIMERS", true); err != nil {
		return nil, err
	}

	cfg.TimerPumpSpec = os.Getenv("TIMER_PUMP_SPEC")
	if cfg.TimerPumpSpec == "" {
		if cfg.ExactTimers {
			cfg.TimerPumpSpec = "@every 1s"
		} else {
			cfg.TimerPumpSpec = "@every 1m" // inexact timers are coalesced to whole minutes
		}
	}
	cfg.CronSpecReconcile = stringOr("CRON_SPEC_RECONCILE", "0 3 * * *")

	cfg.Location = time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Location, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
	}

	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTClientID = stringOr("MQTT_CLIENT_ID", "medicine-reminder-bot")
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	cfg.MQTTTopicPrefix = stringOr("MQTT_TOPIC_PREFIX", "medreminder/device")

	cfg.CaregiverStream = stringOr("CAREGIVER_STREAM", "caregiver:alerts")
	cfg.CaregiverWebhookURL = os.Getenv("CAREGIVER_WEBHOOK_URL")
	cfg.HouseholdID = os.Getenv("HOUSEHOLD_ID")

	cfg.HTTPAddr = stringOr("HTTP_ADDR", ":8080")
	cfg.APIJWTSecret = os.Getenv("API_JWT_SECRET")

	if cfg.SkipCancelsTimers, err = optionalBool("SKIP_CANCELS_TIMERS", false); err != nil {
		return nil, err
	}
	if cfg.MaxEscalations, err = optionalInt("MAX_ESCALATIONS", 4); err != nil {
		return nil, err
	}
	if cfg.MaxEscalations < 1 {
		return nil, fmt.Errorf("MAX_ESCALATIONS must be at least 1, got %d", cfg.MaxEscalations)
	}
	if cfg.EscalationInterval, err = optionalDuration("ESCALATION_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FollowUpDelay, err = optionalDuration("FOLLOW_UP_DELAY", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FinalCheckDelay, err = optionalDuration("FINAL_CHECK_DELAY", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SnoozeDelay, err = optionalDuration("SNOOZE_DELAY", 15*time.Minute); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	return cfg, nil
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requiredInt64(key string) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%s is not set", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func optionalInt64(key string, def int64) (int64, error) {
	if os.Getenv(key) == "" {
		return def, nil
	}
	return requiredInt64(key)
}

func optionalInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func optionalBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func optionalDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return v, nil
}
