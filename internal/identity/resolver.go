// Package identity maps aggregator user ids to internal user ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"livmore-rook-sync/internal/database"
)

// ErrNotFound is returned when an external id matches no user or connection
var ErrNotFound = errors.New("user not found")

// Store is the subset of the database the resolver needs
type Store interface {
	GetUser(ctx context.Context, id int64) (*database.User, error)
	FindConnectionByRookUserID(ctx context.Context, rookUserID string) (*database.Connection, error)
}

// Resolver resolves external ids to internal user ids
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a new resolver
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		logger: slog.Default(),
	}
}

// Resolve returns the internal user id for an external id.
//
// The aggregator sometimes echoes the id we handed it at connection time and
// sometimes its own generated id, so a numeric id is first tried as an
// internal id and then as an aggregator id.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (int64, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return 0, ErrNotFound
	}

	if id, err := strconv.ParseInt(externalID, 10, 64); err == nil && id > 0 {
		user, err := r.store.GetUser(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to look up user %d: %w", id, err)
		}
		if user != nil {
			return user.ID, nil
		}
		r.logger.Debug("Numeric id is not an internal user, trying connections", "external_id", externalID)
	}

	conn, err := r.store.FindConnectionByRookUserID(ctx, externalID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up connection: %w", err)
	}
	if conn == nil {
		return 0, ErrNotFound
	}
	if conn.Legacy {
		r.logger.Info("Resolved user through legacy connection", "external_id", externalID, "user_id", conn.UserID)
	}
	return conn.UserID, nil
}
