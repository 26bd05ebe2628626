// Package connect tracks device connections started from the app until the
// aggregator confirms them.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/metrics"
)

const pendingTTL = 10 * time.Minute

// ErrUnknownUser is returned when a connection is started for a user that
// is not whitelisted
var ErrUnknownUser = errors.New("unknown user")

// Store is the subset of the database the manager needs
type Store interface {
	GetUser(ctx context.Context, id int64) (*database.User, error)
	SetConnection(ctx context.Context, c *database.Connection) error
}

// Manager hands out connection page URLs and completes pending connections
type Manager struct {
	baseURL    string
	clientUUID string
	store      Store
	logger     *slog.Logger
	pending    *pendingStore
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// pendingStore tracks started connections by internal user id
type pendingStore struct {
	mu      sync.Mutex
	entries map[int64]time.Time
}

// NewManager creates a new connection manager and starts the background
// cleanup of expired entries. Call Close to stop it.
func NewManager(baseURL, clientUUID string, store Store) *Manager {
	mgr := &Manager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientUUID: clientUUID,
		store:      store,
		logger:     slog.Default(),
		pending:    &pendingStore{entries: make(map[int64]time.Time)},
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go mgr.cleanupPending()

	return mgr
}

// Start records a pending connection for userID and returns the aggregator
// connection page the user should be sent to
func (m *Manager) Start(ctx context.Context, userID int64) (string, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", ErrUnknownUser
	}

	m.pending.mu.Lock()
	m.pending.entries[userID] = m.now().Add(pendingTTL)
	metrics.PendingConnections.Set(float64(len(m.pending.entries)))
	m.pending.mu.Unlock()

	m.logger.Info("Started device connection", "user_id", userID)
	return m.URL(userID), nil
}

// URL is the aggregator connection page for userID
func (m *Manager) URL(userID int64) string {
	return fmt.Sprintf("%s/client_uuid/%s/user_id/%s/",
		m.baseURL, url.PathEscape(m.clientUUID), strconv.FormatInt(userID, 10))
}

// IsPending reports whether userID has an unexpired pending connection
func (m *Manager) IsPending(userID int64) bool {
	m.pending.mu.Lock()
	defer m.pending.mu.Unlock()

	expiry, ok := m.pending.entries[userID]
	return ok && m.now().Before(expiry)
}

// Complete stores the connection when userID has a pending one. Returns
// false without error when nothing was pending.
func (m *Manager) Complete(ctx context.Context, userID int64, rookUserID, dataSource string) (bool, error) {
	if !m.take(userID) {
		return false, nil
	}

	conn := &database.Connection{UserID: userID, RookUserID: rookUserID}
	if dataSource != "" {
		conn.DataSource = &dataSource
	}
	if err := m.store.SetConnection(ctx, conn); err != nil {
		return false, fmt.Errorf("failed to store connection: %w", err)
	}

	m.logger.Info("Completed device connection", "user_id", userID, "rook_user_id", rookUserID, "data_source", dataSource)
	return true, nil
}

// take removes a pending entry (one-time use) and reports whether it was live
func (m *Manager) take(userID int64) bool {
	m.pending.mu.Lock()
	defer m.pending.mu.Unlock()

	expiry, ok := m.pending.entries[userID]
	if !ok {
		return false
	}
	delete(m.pending.entries, userID)
	metrics.PendingConnections.Set(float64(len(m.pending.entries)))

	return m.now().Before(expiry)
}

// Close stops the background cleanup
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// cleanupPending removes expired entries every minute
func (m *Manager) cleanupPending() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.purgeExpired()
		}
	}
}

func (m *Manager) purgeExpired() {
	m.pending.mu.Lock()
	defer m.pending.mu.Unlock()

	now := m.now()
	for userID, expiry := range m.pending.entries {
		if !now.Before(expiry) {
			delete(m.pending.entries, userID)
		}
	}
	metrics.PendingConnections.Set(float64(len(m.pending.entries)))
}
