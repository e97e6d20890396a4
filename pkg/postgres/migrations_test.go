package postgres

import (
	"strings"
	"testing"
)

func TestServiceMigrations_API(t *testing.T) {
	migrations := serviceMigrations("api")
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations for api, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0], "users") {
		t.Error("expected api migrations to create the users table")
	}
	if !strings.Contains(migrations[0], "version BIGINT") {
		t.Error("expected users table to carry a version column")
	}
	if !strings.Contains(migrations[0], "UNIQUE") {
		t.Error("expected users table to declare email unique")
	}
}

func TestServiceMigrations_Lifecycle(t *testing.T) {
	migrations := serviceMigrations("lifecycle")
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations for lifecycle, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0], "processed_events") {
		t.Error("expected lifecycle migrations to create processed_events")
	}
}

func TestServiceMigrations_Notification(t *testing.T) {
	migrations := serviceMigrations("notification")
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations for notification, got %d", len(migrations))
	}
	if !strings.Contains(migrations[1], "notification_log") {
		t.Error("expected notification migrations to create notification_log")
	}
}

func TestServiceMigrations_Default(t *testing.T) {
	migrations := serviceMigrations("unknown")
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration for unknown (default), got %d", len(migrations))
	}
}
