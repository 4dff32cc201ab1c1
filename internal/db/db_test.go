package db

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestNewWithInvalidURL(t *testing.T) {
	_, err := New(context.Background(), "postgres://invalid:5432/nonexistent?connect_timeout=1")
	if err == nil {
		t.Fatal("expected error for invalid database URL, got nil")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Errorf("expected paired up/down migrations, got %d up and %d down", ups, downs)
	}

	first, err := fs.ReadFile(migrationsFS, "migrations/000001_notifications.up.sql")
	if err != nil {
		t.Fatalf("read first migration: %v", err)
	}
	if !strings.Contains(string(first), "CREATE TABLE IF NOT EXISTS notifications") {
		t.Error("first migration should create the notifications table")
	}
}

func TestRunMigrationsInvalidURL(t *testing.T) {
	if err := RunMigrations("postgres://invalid:5432/nonexistent?connect_timeout=1&sslmode=disable"); err == nil {
		t.Fatal("expected error for unreachable database")
	}
}
