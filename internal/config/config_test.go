package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ENV", "")
	t.Setenv("PUSH_PROVIDER", "")
	t.Setenv("EXPIRE_PUSH_AFTER_HOURS", "")
	t.Setenv("REMINDER_STALE_AFTER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.PushProvider != "apns" {
		t.Errorf("expected push provider apns, got %s", cfg.PushProvider)
	}
	if cfg.ExpirePushAfter != 24*time.Hour {
		t.Errorf("expected 24h push expiry, got %s", cfg.ExpirePushAfter)
	}
	if cfg.ReminderStaleAfter != 2*time.Hour {
		t.Errorf("expected 2h stale window, got %s", cfg.ReminderStaleAfter)
	}
	if cfg.RemindersEnabled {
		t.Error("reminders should be disabled by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("PUSH_PROVIDER", "sns")
	t.Setenv("EXPIRE_PUSH_AFTER_HOURS", "0.5")
	t.Setenv("REMINDER_PUSH_NOTIFICATIONS_ENABLED", "true")
	t.Setenv("REMINDER_FIRST_AFTER", "24h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.PushProvider != "sns" {
		t.Errorf("expected sns, got %s", cfg.PushProvider)
	}
	if cfg.ExpirePushAfter != 30*time.Minute {
		t.Errorf("expected 30m, got %s", cfg.ExpirePushAfter)
	}
	if !cfg.RemindersEnabled {
		t.Error("expected reminders enabled")
	}
	if cfg.ReminderFirstAfter != 24*time.Hour {
		t.Errorf("expected 24h, got %s", cfg.ReminderFirstAfter)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"PUSH_PROVIDER", "carrier-pigeon"},
		{"REMINDER_STALE_AFTER", "-1h"},
		{"EXPIRE_PUSH_AFTER_HOURS", "soon"},
		{"REMINDER_PUSH_NOTIFICATIONS_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
