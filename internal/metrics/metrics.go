package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Results
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultNoData  = "no_data"
	ResultDropped = "dropped"

	// HTTP endpoints
	EndpointWebhook       = "rook_webhook"
	EndpointWebhookLegacy = "rook_webhook_legacy"
	EndpointDashboard     = "dashboard_data"
	EndpointWeekly        = "weekly_data"
	EndpointBackfill      = "rook_backfill"
	EndpointVerify        = "rook_verify"
	EndpointConnect       = "rook_connect"
	EndpointWebhookLogs   = "rook_webhook_logs"
	EndpointHealth        = "health"

	// Rook API operations
	OpPhysicalSummary = "physical_summary"
	OpSleepSummary    = "sleep_summary"
	OpSleepSummaryAlt = "sleep_summary_alt"

	// Webhook outcomes
	WebhookProcessed        = "processed"
	WebhookMalformed        = "malformed"
	WebhookNoSummary        = "no_summary"
	WebhookIdentityNotFound = "identity_not_found"
	WebhookStorageError     = "storage_error"
	WebhookUnknownKind      = "unknown_kind"
	WebhookSkipped          = "skipped"

	// Pull sources
	SourceCache          = "cache"
	SourceLocal          = "local_db"
	SourceLive           = "rook_api"
	SourceNoData         = "no_data"
	SourceUpstreamFailed = "upstream_failed"

	// Cache lookups
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"

	// Event transports
	TransportBus  = "bus"
	TransportAMQP = "amqp"

	// Database operations
	DBOpGetUser                  = "get_user"
	DBOpUpsertUser               = "upsert_user"
	DBOpListConnectedUsers       = "list_connected_users"
	DBOpFindConnection           = "find_connection"
	DBOpSetConnection            = "set_connection"
	DBOpMigrateLegacyConnections = "migrate_legacy_connections"
	DBOpUpsertDailyActivity      = "upsert_daily_activity"
	DBOpGetDailyActivity         = "get_daily_activity"
	DBOpListDailyActivities      = "list_daily_activities"
	DBOpDeleteDailyActivity      = "delete_daily_activity"
	DBOpUpsertWebhookLog         = "upsert_webhook_log"
	DBOpGetGoals                 = "get_goals"
	DBOpVerificationReport       = "verification_report"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Rook API Metrics
var (
	RookAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rook_api_requests_total",
			Help: "Total number of Rook API requests",
		},
		[]string{"operation", "status_code"},
	)

	RookAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rook_api_request_duration_seconds",
			Help:    "Rook API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation", "status_code"},
	)

	RookRateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rook_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the outbound Rook rate limiter",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of Rook webhook deliveries by payload kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	PullRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pull_requests_total",
			Help: "Total number of daily activity pulls by serving source",
		},
		[]string{"source"},
	)

	BackfillDaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_days_total",
			Help: "Total number of backfill days by result",
		},
		[]string{"result"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of pull cache lookups",
		},
		[]string{"backend", "result"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_events_published_total",
			Help: "Total number of activity updated events by transport and result",
		},
		[]string{"transport", "result"},
	)

	ChallengeSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_sync_total",
			Help: "Total number of challenge sync calls by result",
		},
		[]string{"result"},
	)

	PendingConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_connections",
			Help: "Number of device connections started but not yet completed",
		},
	)

	DailyActivityRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daily_activity_rows",
			Help: "Number of stored daily activity rows",
		},
	)

	WebhookLogsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webhook_logs",
			Help: "Number of stored webhook log rows by status",
		},
		[]string{"status"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the event worker is currently active (1) or not (0)",
		},
	)
)
