package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPendingMigrations(t *testing.T) {
	dir := t.TempDir()

	files := []string{
		"0002_reminder_notifications.up.sql",
		"0001_push_tokens.up.sql",
		"0001_push_tokens.down.sql",
		"README.md",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "9999_nested.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := pendingMigrations(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"0001_push_tokens.up.sql", "0002_reminder_notifications.up.sql"}
	if len(names) != len(want) {
		t.Fatalf("expected %d migrations, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("migration %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestPendingMigrations_MissingDir(t *testing.T) {
	if _, err := pendingMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestShippedMigrations(t *testing.T) {
	names, err := pendingMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) < 2 {
		t.Errorf("expected at least two shipped migrations, got %v", names)
	}
}
