package database

import (
	"context"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := t.TempDir() + "/test.db"
	db, err := OpenAndMigrate(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func createTestUser(t *testing.T, db *DB, id int64, timezone string) {
	t.Helper()

	if err := db.UpsertUser(context.Background(), &User{ID: id, Timezone: timezone}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected schema version 1, got %d", version)
	}
	if dirty {
		t.Error("Expected clean schema")
	}

	if err := db.Health(); err != nil {
		t.Errorf("Expected healthy database, got %v", err)
	}
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("DefaultsTimezone", func(t *testing.T) {
		if err := db.UpsertUser(ctx, &User{ID: 1, SocialRef: strPtr("fid:1")}); err != nil {
			t.Fatalf("Failed to upsert user: %v", err)
		}

		u, err := db.GetUser(ctx, 1)
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if u == nil {
			t.Fatal("Expected user to be found")
		}
		if u.Timezone != "UTC" {
			t.Errorf("Expected timezone UTC, got %s", u.Timezone)
		}
		if u.SocialRef == nil || *u.SocialRef != "fid:1" {
			t.Errorf("Expected social ref fid:1, got %v", u.SocialRef)
		}
	})

	t.Run("KeepsSocialRefOnUpdate", func(t *testing.T) {
		if err := db.UpsertUser(ctx, &User{ID: 1, Timezone: "Europe/Paris"}); err != nil {
			t.Fatalf("Failed to upsert user: %v", err)
		}

		u, err := db.GetUser(ctx, 1)
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if u.Timezone != "Europe/Paris" {
			t.Errorf("Expected timezone Europe/Paris, got %s", u.Timezone)
		}
		if u.SocialRef == nil || *u.SocialRef != "fid:1" {
			t.Errorf("Expected social ref to be kept, got %v", u.SocialRef)
		}
	})

	t.Run("MissingUser", func(t *testing.T) {
		u, err := db.GetUser(ctx, 999)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if u != nil {
			t.Errorf("Expected nil user, got %+v", u)
		}
	})
}
