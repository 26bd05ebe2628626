package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata" // backfill windows use the user's IANA zone

	"livmore-rook-sync/internal/backfill"
	"livmore-rook-sync/internal/config"
	"livmore-rook-sync/internal/connect"
	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/identity"
	"livmore-rook-sync/internal/ingest"
	"livmore-rook-sync/internal/rook"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if command == "help" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.OpenAndMigrate(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	switch command {
	case "backfill":
		err = handleBackfill(ctx, cfg, db, args)
	case "verify":
		err = handleVerify(ctx, db)
	case "cleanup":
		err = handleCleanup(ctx, db, args)
	case "migrate-legacy-connections":
		err = handleMigrateLegacy(ctx, db)
	case "connect-url":
		err = handleConnectURL(cfg, db, args)
	case "replay-webhooks":
		err = handleReplay(ctx, cfg, db, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		db.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`livmore-rook-sync CLI - Operator Tools

Usage:
  cli <command> [options]

Commands:
  backfill [-user N] [-force]              Import recent days from the aggregator
  verify                                   Print the activity store report
  cleanup -user N -date D [-test-only]     Delete one stored day
  migrate-legacy-connections               Copy legacy device links into connections
  connect-url -user N                      Print the device connection page for a user
  replay-webhooks [-status S] [-limit N]   Reprocess logged webhook deliveries
  help                                     Show this help message

Examples:
  cli backfill -user 42 -force
  cli cleanup -user 42 -date 2024-06-01 -test-only
  cli replay-webhooks -status storage_error -limit 50

Environment Variables Required:
  ROOK_CLIENT_UUID   - Aggregator client UUID
  ROOK_SECRET_KEY    - Aggregator secret key
  DATABASE_PATH      - SQLite database path (default: ./livmore.db)`)
}

// publisherFor returns a broker publisher so the running server's worker
// sees CLI writes. Without a broker, events are not published.
func publisherFor(cfg *config.Config) (events.Publisher, func()) {
	if cfg.RabbitMQURL == "" {
		return nil, func() {}
	}
	p := events.NewAMQPPublisher(cfg.RabbitMQURL)
	return p, func() { p.Close() }
}

func handleBackfill(ctx context.Context, cfg *config.Config, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	userID := fs.Int64("user", 0, "only backfill this user")
	force := fs.Bool("force", false, "refetch days that are already stored")
	fs.Parse(args)

	client := rook.NewClient(rook.Options{
		BaseURL:           cfg.RookBackfillBaseURL,
		ClientUUID:        cfg.RookClientUUID,
		SecretKey:         cfg.RookSecretKey,
		Timeout:           cfg.RookTimeout,
		MaxRetries:        cfg.RookBackfillRetries,
		RequestsPerSecond: cfg.RookRequestsPerSecond,
		WaitOutPauses:     true,
	})
	publisher, closePublisher := publisherFor(cfg)
	defer closePublisher()

	opts := backfill.Options{Force: *force}
	if *userID != 0 {
		opts.UserID = userID
	}

	fmt.Printf("Backfilling the last %d days...\n", cfg.BackfillWindowDays)
	results, err := backfill.NewJob(db, client, publisher, cfg.BackfillWindowDays).Run(ctx, opts)
	for _, r := range results {
		fmt.Printf("User %d (%s, %s)\n", r.UserID, r.RookUserID, r.Timezone)
		fmt.Printf("  Migrated: %d  Skipped: %d  No data: %d  Errors: %d\n",
			r.DaysMigrated, r.Skipped, r.NoData, r.Errors)
	}
	if errors.Is(err, backfill.ErrUserNotConnected) {
		return fmt.Errorf("user %d has no device connection", *userID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("✓ Backfill complete for %d user(s)\n", len(results))
	return nil
}

func handleVerify(ctx context.Context, db *database.DB) error {
	today := time.Now().UTC().Format(database.DateLayout)
	report, err := db.VerificationReport(ctx, today)
	if err != nil {
		return err
	}

	fmt.Printf("Rows: %d (%d users)\n", report.TotalRows, report.DistinctUsers)
	if report.EarliestDate != nil && report.LatestDate != nil {
		fmt.Printf("Dates: %s .. %s\n", *report.EarliestDate, *report.LatestDate)
	}
	fmt.Printf("Rows in last 7 days: %d\n", report.RowsLast7Days)
	fmt.Printf("Test data rows: %d\n", report.TestDataRows)
	printCounts("By origin", report.ByOrigin)
	printCounts("By source", report.BySource)
	printCounts("Webhook logs", report.WebhookLogs)

	if len(report.Completion) > 0 {
		fmt.Println("Goal completion (last 7 days):")
		for _, c := range report.Completion {
			fmt.Printf("  User %d: %d days, steps %.0f%%, calories %.0f%%, sleep %.0f%%\n",
				c.UserID, c.DaysStored, c.StepsRate*100, c.CaloriesRate*100, c.SleepRate*100)
		}
	}
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for k, v := range counts {
		fmt.Printf("  %s: %d\n", k, v)
	}
}

func handleCleanup(ctx context.Context, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id (required)")
	date := fs.String("date", "", "activity date YYYY-MM-DD (required)")
	testOnly := fs.Bool("test-only", false, "only delete rows carrying test sentinel values")
	fs.Parse(args)

	if _, err := time.Parse(database.DateLayout, *date); *date != "" && err != nil {
		return fmt.Errorf("invalid date %q", *date)
	}

	deleted, err := db.DeleteDailyActivity(ctx, *userID, *date, *testOnly)
	if errors.Is(err, database.ErrUnscopedDelete) {
		return errors.New("both -user and -date are required")
	}
	if err != nil {
		return err
	}

	fmt.Printf("✓ Deleted %d row(s)\n", deleted)
	return nil
}

func handleMigrateLegacy(ctx context.Context, db *database.DB) error {
	migrated, err := db.MigrateLegacyConnections(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Migrated %d legacy connection(s)\n", migrated)
	return nil
}

func handleConnectURL(cfg *config.Config, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("connect-url", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id (required)")
	fs.Parse(args)

	if *userID <= 0 {
		return errors.New("-user is required")
	}

	mgr := connect.NewManager(cfg.RookConnectBaseURL, cfg.RookClientUUID, db)
	defer mgr.Close()

	fmt.Println(mgr.URL(*userID))
	return nil
}

func handleReplay(ctx context.Context, cfg *config.Config, db *database.DB, args []string) error {
	fs := flag.NewFlagSet("replay-webhooks", flag.ExitOnError)
	status := fs.String("status", database.LogStatusStorageError, "log status to replay")
	limit := fs.Int("limit", 100, "maximum deliveries to replay")
	fs.Parse(args)

	logs, err := db.ListWebhookLogs(ctx, *status, *limit)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Printf("No webhook logs with status %s.\n", *status)
		return nil
	}

	publisher, closePublisher := publisherFor(cfg)
	defer closePublisher()
	svc := ingest.NewService(db, identity.NewResolver(db), publisher)

	processed := 0
	for _, l := range logs {
		out := svc.Replay(ctx, l)
		if out.Processed {
			processed++
		}
		fmt.Printf("  #%d %s %s -> %s\n", l.ID, l.ExternalUserID, l.PayloadType, out.Status)
	}

	fmt.Printf("✓ Replayed %d delivery(ies), %d processed\n", len(logs), processed)
	return nil
}
