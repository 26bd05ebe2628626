package connect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"livmore-rook-sync/internal/database"
)

func setupConnectTest(t *testing.T) (*Manager, *database.DB) {
	t.Helper()

	db, err := database.OpenAndMigrate(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.UpsertUser(context.Background(), &database.User{ID: 5}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	mgr := NewManager("https://connections.example.com/", "client-uuid", db)
	t.Cleanup(mgr.Close)

	return mgr, db
}

func TestStart(t *testing.T) {
	mgr, _ := setupConnectTest(t)
	ctx := context.Background()

	connectURL, err := mgr.Start(ctx, 5)
	if err != nil {
		t.Fatalf("Failed to start connection: %v", err)
	}

	want := "https://connections.example.com/client_uuid/client-uuid/user_id/5/"
	if connectURL != want {
		t.Errorf("Expected %s, got %s", want, connectURL)
	}
	if !mgr.IsPending(5) {
		t.Error("Expected connection to be pending")
	}

	if _, err := mgr.Start(ctx, 404); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Expected ErrUnknownUser, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	mgr, db := setupConnectTest(t)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, 5); err != nil {
		t.Fatalf("Failed to start connection: %v", err)
	}

	completed, err := mgr.Complete(ctx, 5, "5", "Garmin")
	if err != nil {
		t.Fatalf("Failed to complete connection: %v", err)
	}
	if !completed {
		t.Fatal("Expected connection to complete")
	}

	conn, err := db.FindConnectionByUserID(ctx, 5)
	if err != nil {
		t.Fatalf("Failed to find connection: %v", err)
	}
	if conn == nil || conn.RookUserID != "5" {
		t.Fatalf("Expected stored connection, got %+v", conn)
	}
	if conn.DataSource == nil || *conn.DataSource != "Garmin" {
		t.Errorf("Expected data source Garmin, got %v", conn.DataSource)
	}

	// One-time use
	completed, err = mgr.Complete(ctx, 5, "5", "Garmin")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if completed {
		t.Error("Expected second completion to be ignored")
	}
}

func TestCompleteWithoutPending(t *testing.T) {
	mgr, db := setupConnectTest(t)
	ctx := context.Background()

	completed, err := mgr.Complete(ctx, 5, "5", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if completed {
		t.Error("Expected nothing to complete")
	}

	conn, err := db.FindConnectionByUserID(ctx, 5)
	if err != nil {
		t.Fatalf("Failed to find connection: %v", err)
	}
	if conn != nil {
		t.Errorf("Expected no connection, got %+v", conn)
	}
}

func TestPendingExpires(t *testing.T) {
	mgr, _ := setupConnectTest(t)
	ctx := context.Background()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }

	if _, err := mgr.Start(ctx, 5); err != nil {
		t.Fatalf("Failed to start connection: %v", err)
	}

	now = now.Add(pendingTTL + time.Second)
	if mgr.IsPending(5) {
		t.Error("Expected pending connection to expire")
	}

	mgr.purgeExpired()
	mgr.pending.mu.Lock()
	remaining := len(mgr.pending.entries)
	mgr.pending.mu.Unlock()
	if remaining != 0 {
		t.Errorf("Expected expired entries to be purged, got %d", remaining)
	}

	completed, err := mgr.Complete(ctx, 5, "5", "")
	if err != nil || completed {
		t.Errorf("Expected expired connection not to complete, got %v %v", completed, err)
	}
}

func TestConnectURLEscapesClientUUID(t *testing.T) {
	mgr, _ := setupConnectTest(t)
	mgr.clientUUID = "a/b"

	connectURL, err := mgr.Start(context.Background(), 5)
	if err != nil {
		t.Fatalf("Failed to start connection: %v", err)
	}
	if !strings.Contains(connectURL, "a%2Fb") {
		t.Errorf("Expected escaped client uuid, got %s", connectURL)
	}
}
