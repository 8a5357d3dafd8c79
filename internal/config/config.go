package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Shared secret mixed into every signed message. May be empty.
	AppAPIKey string
	Ticker    string

	// APNs token auth
	APNSKeyPath string
	APNSKeyID   string
	APNSTeamID  string
	APNSTopic   string

	// Firebase service account
	FirebaseProjectID   string
	FirebaseClientEmail string
	FirebasePrivateKey  string

	// AWS SNS mobile push
	AWSRegion            string
	SNSAPNSArn           string
	SNSAPNSSandboxArn    string
	SNSGCMArn            string
	SNSBroadcastTopicArn string

	// PushProvider selects the network used for wallet (pub key) tokens: apns or sns.
	PushProvider string

	ExpirePushAfter         time.Duration
	ReminderExpirePushAfter time.Duration
	RemindersEnabled        bool

	ReminderFirstAfter   time.Duration
	ReminderSecondAfter  time.Duration
	ReminderExpiredAfter time.Duration
	ReminderStaleAfter   time.Duration

	// Sweep triggering
	SweepSchedule string // cron spec; empty runs a single sweep
	SweepQueueURL string // SQS queue delivering sweep triggers

	SendRateLimit      int // sends per minute per sender pub key
	CircuitMaxFailures int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "aurora_push",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		Ticker:    "tXTR",
		APNSTopic: "com.tari.wallet",

		AWSRegion:    "us-east-1",
		PushProvider: "apns",

		ExpirePushAfter:         24 * time.Hour,
		ReminderExpirePushAfter: 2 * time.Hour,

		ReminderFirstAfter:   3 * time.Minute,
		ReminderSecondAfter:  6 * time.Minute,
		ReminderExpiredAfter: 9 * time.Minute,
		ReminderStaleAfter:   2 * time.Hour,

		SendRateLimit:      30,
		CircuitMaxFailures: 5,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	stringEnv("DB_HOST", &cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	stringEnv("DB_USER", &cfg.DBUser)
	stringEnv("DB_PASSWORD", &cfg.DBPassword)
	stringEnv("DB_NAME", &cfg.DBName)
	stringEnv("DB_SSLMODE", &cfg.DBSSLMode)

	// Redis config
	stringEnv("REDIS_HOST", &cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	stringEnv("REDIS_PASSWORD", &cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	stringEnv("APP_API_KEY", &cfg.AppAPIKey)
	stringEnv("TICKER", &cfg.Ticker)

	stringEnv("APNS_KEY_PATH", &cfg.APNSKeyPath)
	stringEnv("APNS_KEY_ID", &cfg.APNSKeyID)
	stringEnv("APNS_TEAM_ID", &cfg.APNSTeamID)
	stringEnv("APNS_TOPIC", &cfg.APNSTopic)

	stringEnv("FIREBASE_PROJECT_ID", &cfg.FirebaseProjectID)
	stringEnv("FIREBASE_CLIENT_EMAIL", &cfg.FirebaseClientEmail)
	stringEnv("FIREBASE_PRIVATE_KEY", &cfg.FirebasePrivateKey)

	stringEnv("AWS_REGION", &cfg.AWSRegion)
	stringEnv("SNS_APNS_ARN", &cfg.SNSAPNSArn)
	stringEnv("SNS_APNS_SANDBOX_ARN", &cfg.SNSAPNSSandboxArn)
	stringEnv("SNS_GCM_ARN", &cfg.SNSGCMArn)
	stringEnv("SNS_BROADCAST_TOPIC_ARN", &cfg.SNSBroadcastTopicArn)

	stringEnv("PUSH_PROVIDER", &cfg.PushProvider)
	if cfg.PushProvider != "apns" && cfg.PushProvider != "sns" {
		return nil, fmt.Errorf("invalid PUSH_PROVIDER: %q (must be apns or sns)", cfg.PushProvider)
	}

	// Push expiry is configured in hours; fractions are allowed.
	if cfg.ExpirePushAfter, err = hoursEnv("EXPIRE_PUSH_AFTER_HOURS", cfg.ExpirePushAfter); err != nil {
		return nil, err
	}
	if cfg.ReminderExpirePushAfter, err = hoursEnv("REMINDER_EXPIRE_PUSH_AFTER_HOURS", cfg.ReminderExpirePushAfter); err != nil {
		return nil, err
	}

	if enabled := os.Getenv("REMINDER_PUSH_NOTIFICATIONS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid REMINDER_PUSH_NOTIFICATIONS_ENABLED: %w", err)
		}
		cfg.RemindersEnabled = b
	}

	if cfg.ReminderFirstAfter, err = durationEnv("REMINDER_FIRST_AFTER", cfg.ReminderFirstAfter); err != nil {
		return nil, err
	}
	if cfg.ReminderSecondAfter, err = durationEnv("REMINDER_SECOND_AFTER", cfg.ReminderSecondAfter); err != nil {
		return nil, err
	}
	if cfg.ReminderExpiredAfter, err = durationEnv("REMINDER_EXPIRED_AFTER", cfg.ReminderExpiredAfter); err != nil {
		return nil, err
	}
	if cfg.ReminderStaleAfter, err = durationEnv("REMINDER_STALE_AFTER", cfg.ReminderStaleAfter); err != nil {
		return nil, err
	}

	stringEnv("SWEEP_SCHEDULE", &cfg.SweepSchedule)
	stringEnv("SWEEP_QUEUE_URL", &cfg.SweepQueueURL)

	if cfg.SendRateLimit, err = intEnv("SEND_RATE_LIMIT", cfg.SendRateLimit); err != nil {
		return nil, err
	}
	if cfg.CircuitMaxFailures, err = intEnv("CIRCUIT_MAX_FAILURES", cfg.CircuitMaxFailures); err != nil {
		return nil, err
	}

	return cfg, nil
}

func stringEnv(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func hoursEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	h, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if h <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return time.Duration(h * float64(time.Hour)), nil
}
