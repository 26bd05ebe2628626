// Package ingest runs one aggregator webhook delivery through
// classify, normalize, resolve, upsert, publish and log.
//
// Every failure becomes a logged Outcome. Process never returns an error:
// the webhook endpoint always acknowledges, because the aggregator retries
// non-2xx responses indefinitely.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/identity"
	"livmore-rook-sync/internal/metrics"
	"livmore-rook-sync/internal/normalize"
	"livmore-rook-sync/internal/sentry"
)

const unknownExternalID = "unknown"

// Store is the subset of the database the pipeline writes to
type Store interface {
	UpsertDailyActivity(ctx context.Context, userID int64, date string, f database.ActivityFields) error
	UpsertWebhookLog(ctx context.Context, l *database.WebhookLog) error
}

// Resolver maps an external id to an internal user id
type Resolver interface {
	Resolve(ctx context.Context, externalID string) (int64, error)
}

// Delivery is one inbound webhook request
type Delivery struct {
	Body []byte
	// PathUserID comes from the URL when the aggregator embeds it there
	PathUserID string
}

// Outcome is the result of processing a delivery
type Outcome struct {
	Status         string
	Kind           normalize.Kind
	ExternalUserID string
	UserID         int64
	Date           string
	Processed      bool
	Message        string
	Err            error
}

// Service processes webhook deliveries
type Service struct {
	store     Store
	resolver  Resolver
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new webhook pipeline
func NewService(store Store, resolver Resolver, publisher events.Publisher) *Service {
	return &Service{
		store:     store,
		resolver:  resolver,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Process runs the pipeline for one delivery. Exactly one webhook log write
// happens per call, and at most one activity upsert. Cancellation of ctx
// does not stop a delivery that was already received.
func (s *Service) Process(ctx context.Context, d Delivery) Outcome {
	out := s.process(context.WithoutCancel(ctx), d)

	metrics.WebhookDeliveriesTotal.WithLabelValues(string(out.Kind), out.Status).Inc()
	s.logOutcome(out)

	return out
}

func (s *Service) process(ctx context.Context, d Delivery) Outcome {
	var payload map[string]any
	if err := json.Unmarshal(d.Body, &payload); err != nil || payload == nil {
		if err == nil {
			err = errors.New("body is not a JSON object")
		}
		out := Outcome{
			Status:         database.LogStatusMalformed,
			Kind:           normalize.KindUnknown,
			ExternalUserID: firstNonEmpty(cleanUserID(d.PathUserID), unknownExternalID),
			Message:        "Malformed payload logged",
			Err:            fmt.Errorf("failed to parse body: %w", err),
		}
		s.writeLog(ctx, d, out, "")
		return out
	}

	externalID := selectExternalID(payload, d.PathUserID)
	partial, kind, normErr := normalize.Normalize(payload, normalize.DeclaredKind(payload), s.now())
	version := normalize.DocumentVersion(payload)

	out := Outcome{
		Kind:           kind,
		ExternalUserID: externalID,
		Date:           partial.Date,
	}

	switch {
	case externalID == "":
		out.ExternalUserID = unknownExternalID
		out.Status = database.LogStatusMalformed
		out.Message = "Missing user_id, payload logged"
		out.Err = errors.New("no user id in body or path")
	case kind == normalize.KindUnknown:
		out.Status = database.LogStatusUnknownKind
		out.Message = "Unrecognized payload type, payload logged"
	case errors.Is(normErr, normalize.ErrNoSummaryFound):
		out.Status = database.LogStatusNoSummary
		out.Message = fmt.Sprintf("No %s summary found, payload logged", kind)
		out.Err = normErr
	case normErr != nil:
		out.Status = database.LogStatusMalformed
		out.Message = "Payload could not be normalized"
		out.Err = normErr
	case kind == normalize.KindBody:
		out.Status = database.LogStatusSkipped
		out.Message = "Body data received, not stored"
	default:
		s.storeActivity(ctx, &out, partial)
	}

	s.writeLog(ctx, d, out, version)
	return out
}

// storeActivity resolves the user, upserts the partial and publishes the change
func (s *Service) storeActivity(ctx context.Context, out *Outcome, partial normalize.Partial) {
	userID, err := s.resolver.Resolve(ctx, out.ExternalUserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			out.Status = database.LogStatusIdentityNotFound
			out.Message = fmt.Sprintf("User %s not found, payload logged", out.ExternalUserID)
		} else {
			out.Status = database.LogStatusStorageError
			out.Message = "Storage unavailable, payload logged for replay"
			sentry.CaptureException(err, map[string]any{"external_user_id": out.ExternalUserID}, s.logger)
		}
		out.Err = err
		return
	}
	out.UserID = userID

	if err := s.store.UpsertDailyActivity(ctx, userID, partial.Date, ActivityFields(partial, database.OriginWebhook)); err != nil {
		out.Status = database.LogStatusStorageError
		out.Message = "Storage unavailable, payload logged for replay"
		out.Err = err
		sentry.CaptureException(err, map[string]any{"user_id": userID, "date": partial.Date}, s.logger)
		return
	}

	out.Status = database.LogStatusProcessed
	out.Processed = true
	out.Message = fmt.Sprintf("Processed %s data for %s", out.Kind, partial.Date)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewActivityUpdated(userID, partial.Date, database.OriginWebhook)); err != nil {
			s.logger.Warn("Failed to publish activity event", "user_id", userID, "date", partial.Date, "error", err)
		}
	}
}

// writeLog records the delivery. A failure here is reported but does not
// change the outcome.
func (s *Service) writeLog(ctx context.Context, d Delivery, out Outcome, version string) {
	if version == "" {
		version = bodyHash(d.Body)
	}

	entry := &database.WebhookLog{
		ExternalUserID:  out.ExternalUserID,
		PayloadType:     string(out.Kind),
		DocumentVersion: version,
		Status:          out.Status,
		RawPayload:      string(d.Body),
	}
	if out.Date != "" {
		entry.ActivityDate = &out.Date
	}
	if out.Err != nil {
		msg := out.Err.Error()
		entry.ErrorMessage = &msg
	}

	if err := s.store.UpsertWebhookLog(ctx, entry); err != nil {
		s.logger.Error("Failed to write webhook log", "external_user_id", out.ExternalUserID, "status", out.Status, "error", err)
		sentry.CaptureException(err, map[string]any{"external_user_id": out.ExternalUserID, "status": out.Status}, s.logger)
	}
}

func (s *Service) logOutcome(out Outcome) {
	attrs := []any{
		"status", out.Status,
		"kind", out.Kind,
		"external_user_id", out.ExternalUserID,
		"date", out.Date,
	}
	if out.UserID != 0 {
		attrs = append(attrs, "user_id", out.UserID)
	}
	if out.Err != nil {
		attrs = append(attrs, "error", out.Err)
	}

	switch out.Status {
	case database.LogStatusProcessed, database.LogStatusSkipped:
		s.logger.Info("Webhook processed", attrs...)
	case database.LogStatusStorageError:
		s.logger.Error("Webhook not stored", attrs...)
	default:
		s.logger.Warn("Webhook not processed", attrs...)
	}
}

// ActivityFields converts a normalized partial into a store update
func ActivityFields(p normalize.Partial, origin string) database.ActivityFields {
	f := database.ActivityFields{
		Steps:           p.Steps,
		Calories:        p.Calories,
		DistanceMeters:  p.DistanceMeters,
		SleepHours:      p.SleepHours,
		SleepEfficiency: p.SleepEfficiency,
		Origin:          origin,
	}
	if p.Source != "" {
		source := p.Source
		f.Source = &source
	}
	return f
}

// placeholders are user id values the aggregator sends when its template
// was not substituted
var placeholders = map[string]bool{
	"{user_id}":   true,
	"{{user_id}}": true,
	"${user_id}":  true,
	"<user_id>":   true,
	"user_id":     true,
	"undefined":   true,
	"null":        true,
}

// cleanUserID returns an id with placeholder values removed
func cleanUserID(id string) string {
	id = strings.TrimSpace(id)
	if placeholders[strings.ToLower(id)] {
		return ""
	}
	return id
}

// selectExternalID prefers the body's user id unless it is missing or an
// unsubstituted placeholder, in which case the path id is used
func selectExternalID(payload map[string]any, pathUserID string) string {
	var bodyID string
	switch v := payload["user_id"].(type) {
	case string:
		bodyID = v
	case float64:
		bodyID = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return firstNonEmpty(cleanUserID(bodyID), cleanUserID(pathUserID))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// bodyHash identifies a delivery that carries no document version
func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:8])
}

// Replay reprocesses a logged delivery from its raw payload. The log row is
// updated in place.
func (s *Service) Replay(ctx context.Context, l *database.WebhookLog) Outcome {
	d := Delivery{Body: []byte(l.RawPayload)}
	if l.ExternalUserID != unknownExternalID {
		d.PathUserID = l.ExternalUserID
	}
	return s.Process(ctx, d)
}
