package ingest

import (
	"context"
	"testing"
	"time"

	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/identity"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

const scenarioPayload = `{"user_id":"77","physical_health":{"summary":{"physical_summary":{"distance":{"steps_int":8321},"calories":{"calories_expenditure_kcal_float":410.2}}}}}`

func setupIngestTest(t *testing.T) (*Service, *database.DB, *events.Bus) {
	t.Helper()

	db, err := database.OpenAndMigrate(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.UpsertUser(ctx, &database.User{ID: 5}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := db.SetConnection(ctx, &database.Connection{UserID: 5, RookUserID: "77"}); err != nil {
		t.Fatalf("Failed to set connection: %v", err)
	}

	bus := events.NewBus(16)
	svc := NewService(db, identity.NewResolver(db), bus)
	svc.now = func() time.Time { return fixedNow }

	return svc, db, bus
}

func onlyLog(t *testing.T, db *database.DB) *database.WebhookLog {
	t.Helper()

	logs, err := db.ListWebhookLogs(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Failed to list webhook logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected exactly 1 webhook log, got %d", len(logs))
	}
	return logs[0]
}

func TestProcessScenarioPhysical(t *testing.T) {
	svc, db, bus := setupIngestTest(t)
	ctx := context.Background()

	out := svc.Process(ctx, Delivery{Body: []byte(scenarioPayload)})
	if out.Status != database.LogStatusProcessed || !out.Processed {
		t.Fatalf("Expected processed, got %s (%v)", out.Status, out.Err)
	}
	if out.UserID != 5 {
		t.Errorf("Expected user 5, got %d", out.UserID)
	}

	row, err := db.GetDailyActivity(ctx, 5, "2025-03-14")
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if row == nil {
		t.Fatal("Expected a stored row")
	}
	if row.Steps != 8321 || row.Calories != 410 {
		t.Errorf("Expected 8321 steps and 410 calories, got %d and %d", row.Steps, row.Calories)
	}
	if row.SleepHours != nil {
		t.Errorf("Expected sleep hours null, got %v", *row.SleepHours)
	}
	if row.Origin != database.OriginWebhook {
		t.Errorf("Expected webhook origin, got %s", row.Origin)
	}

	log := onlyLog(t, db)
	if log.Status != database.LogStatusProcessed || log.ExternalUserID != "77" || log.PayloadType != "physical" {
		t.Errorf("Unexpected log: %+v", log)
	}

	if bus.Len() != 1 {
		t.Errorf("Expected 1 published event, got %d", bus.Len())
	}
}

func TestProcessMergesPhysicalAndSleep(t *testing.T) {
	svc, db, _ := setupIngestTest(t)
	ctx := context.Background()

	svc.Process(ctx, Delivery{Body: []byte(`{"user_id":"77","sleep_health":{"summary":{"sleep_summary":{"duration":{"sleep_duration_seconds_int":27000}}}}}`)})
	svc.Process(ctx, Delivery{Body: []byte(scenarioPayload)})

	row, err := db.GetDailyActivity(ctx, 5, "2025-03-14")
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if row.Steps != 8321 {
		t.Errorf("Expected 8321 steps, got %d", row.Steps)
	}
	if row.SleepHours == nil || *row.SleepHours != 7.5 {
		t.Errorf("Expected 7.5 sleep hours kept, got %v", row.SleepHours)
	}
}

func TestProcessMissingUserID(t *testing.T) {
	svc, db, bus := setupIngestTest(t)

	out := svc.Process(context.Background(), Delivery{Body: []byte(`{"physical_health":{"summary":{"steps":100}}}`)})
	if out.Status != database.LogStatusMalformed {
		t.Errorf("Expected malformed, got %s", out.Status)
	}
	if out.Processed {
		t.Error("Expected not processed")
	}

	log := onlyLog(t, db)
	if log.ExternalUserID != unknownExternalID {
		t.Errorf("Expected log under %q, got %q", unknownExternalID, log.ExternalUserID)
	}
	if bus.Len() != 0 {
		t.Errorf("Expected no events, got %d", bus.Len())
	}
}

func TestProcessInvalidJSON(t *testing.T) {
	svc, db, _ := setupIngestTest(t)

	for _, body := range []string{`{not json`, `[1,2]`, ``} {
		out := svc.Process(context.Background(), Delivery{Body: []byte(body)})
		if out.Status != database.LogStatusMalformed {
			t.Errorf("Expected malformed for %q, got %s", body, out.Status)
		}
	}

	logs, err := db.ListWebhookLogs(context.Background(), database.LogStatusMalformed, 10)
	if err != nil {
		t.Fatalf("Failed to list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("Expected 3 malformed logs, got %d", len(logs))
	}
}

func TestProcessPlaceholderUsesPathID(t *testing.T) {
	svc, db, _ := setupIngestTest(t)
	ctx := context.Background()

	for _, placeholder := range []string{"{user_id}", "${user_id}", "USER_ID", "undefined"} {
		body := `{"user_id":"` + placeholder + `","physical_health":{"summary":{"steps":500}}}`
		out := svc.Process(ctx, Delivery{Body: []byte(body), PathUserID: "77"})
		if out.ExternalUserID != "77" || out.UserID != 5 {
			t.Errorf("Placeholder %q: expected path id 77 for user 5, got %q and %d", placeholder, out.ExternalUserID, out.UserID)
		}
	}

	// A real body id wins over the path
	if err := db.UpsertUser(ctx, &database.User{ID: 9}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	out := svc.Process(ctx, Delivery{Body: []byte(`{"user_id":"9","physical_health":{"summary":{"steps":1}}}`), PathUserID: "77"})
	if out.UserID != 9 {
		t.Errorf("Expected body id to resolve user 9, got %d", out.UserID)
	}
}

func TestProcessIdentityNotFound(t *testing.T) {
	svc, db, _ := setupIngestTest(t)
	ctx := context.Background()

	out := svc.Process(ctx, Delivery{Body: []byte(`{"user_id":"ghost","physical_health":{"summary":{"steps":100}}}`)})
	if out.Status != database.LogStatusIdentityNotFound {
		t.Errorf("Expected identity_not_found, got %s", out.Status)
	}

	count, err := db.CountDailyActivities(ctx)
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no rows, got %d", count)
	}
	if log := onlyLog(t, db); log.ErrorMessage == nil {
		t.Error("Expected error message on log")
	}
}

func TestProcessNonActivityKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no summary", `{"user_id":"77","physical_health":{"summary":{"physical_summary":{}}}}`, database.LogStatusNoSummary},
		{"unknown kind", `{"user_id":"77","nutrition":{"summary":{"kcal":1}}}`, database.LogStatusUnknownKind},
		{"body", `{"user_id":"77","body_health":{"summary":{"body_summary":{"weight_kg":70}}}}`, database.LogStatusSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, bus := setupIngestTest(t)

			out := svc.Process(context.Background(), Delivery{Body: []byte(tt.body)})
			if out.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, out.Status)
			}
			if out.Processed || bus.Len() != 0 {
				t.Error("Expected nothing stored or published")
			}
			if log := onlyLog(t, db); log.Status != tt.want {
				t.Errorf("Expected log status %s, got %s", tt.want, log.Status)
			}
		})
	}
}

func TestProcessDeduplicatesLogs(t *testing.T) {
	svc, db, _ := setupIngestTest(t)
	ctx := context.Background()

	svc.Process(ctx, Delivery{Body: []byte(scenarioPayload)})
	svc.Process(ctx, Delivery{Body: []byte(scenarioPayload)})

	log := onlyLog(t, db)
	if log.DeliveryCount != 2 {
		t.Errorf("Expected delivery count 2, got %d", log.DeliveryCount)
	}

	// Explicit document versions key the log
	v1 := `{"user_id":"77","document_version":1,"physical_health":{"summary":{"steps":10}}}`
	v2 := `{"user_id":"77","document_version":2,"physical_health":{"summary":{"steps":20}}}`
	svc.Process(ctx, Delivery{Body: []byte(v1)})
	svc.Process(ctx, Delivery{Body: []byte(v2)})
	svc.Process(ctx, Delivery{Body: []byte(v2)})

	logs, err := db.ListWebhookLogs(ctx, "", 10)
	if err != nil {
		t.Fatalf("Failed to list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("Expected 3 log rows, got %d", len(logs))
	}
}

type failingStore struct {
	*database.DB
}

func (failingStore) UpsertDailyActivity(ctx context.Context, userID int64, date string, f database.ActivityFields) error {
	return database.ErrStorageUnavailable
}

func TestProcessStorageError(t *testing.T) {
	_, db, bus := setupIngestTest(t)
	svc := NewService(failingStore{db}, identity.NewResolver(db), bus)

	out := svc.Process(context.Background(), Delivery{Body: []byte(scenarioPayload)})
	if out.Status != database.LogStatusStorageError {
		t.Errorf("Expected storage_error, got %s", out.Status)
	}
	if bus.Len() != 0 {
		t.Error("Expected no event after failed upsert")
	}

	log := onlyLog(t, db)
	if log.RawPayload != scenarioPayload {
		t.Error("Expected raw payload kept for replay")
	}

	// Replay through a healthy store
	healthy := NewService(db, identity.NewResolver(db), bus)
	healthy.now = func() time.Time { return fixedNow }
	if out := healthy.Replay(context.Background(), log); out.Status != database.LogStatusProcessed {
		t.Errorf("Expected replay to process, got %s (%v)", out.Status, out.Err)
	}
	if log := onlyLog(t, db); log.Status != database.LogStatusProcessed {
		t.Errorf("Expected log updated in place, got %s", log.Status)
	}
}

func TestProcessSurvivesCancelledContext(t *testing.T) {
	svc, db, bus := setupIngestTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := svc.Process(ctx, Delivery{Body: []byte(scenarioPayload)})
	if out.Status != database.LogStatusProcessed {
		t.Fatalf("Expected processed after client disconnect, got %s (%v)", out.Status, out.Err)
	}

	row, err := db.GetDailyActivity(context.Background(), 5, "2025-03-14")
	if err != nil || row == nil {
		t.Fatalf("Expected stored row, got %v (%v)", row, err)
	}
	if log := onlyLog(t, db); log.Status != database.LogStatusProcessed {
		t.Errorf("Expected processed log, got %s", log.Status)
	}
	if bus.Len() != 1 {
		t.Errorf("Expected 1 published event, got %d", bus.Len())
	}
}
