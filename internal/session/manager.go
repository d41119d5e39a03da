// Package session issues, validates and revokes login sessions. A session is
// an opaque token with a fixed expiry stored in the sessions table.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/amma-portal/internal/logging"
	"github.com/jimdaga/amma-portal/internal/models"
)

// ErrNoSession is returned by Lookup for absent, expired or unreadable sessions.
var ErrNoSession = errors.New("no session")

// DefaultTTL is the lifetime of a session. Sessions are never renewed.
const DefaultTTL = 24 * time.Hour

// Identity is the user a session is issued to.
type Identity struct {
	Email string
	Name  string
	Role  string
}

// Manager issues and validates sessions.
type Manager struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
	log  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for swallowed lookup failures.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager. A non-positive ttl uses DefaultTTL.
func NewManager(repo Repository, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		repo: repo,
		ttl:  ttl,
		now:  time.Now,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create issues a new session for id, expiring ttl from now.
func (m *Manager) Create(ctx context.Context, id Identity) (*models.Session, error) {
	if id.Email == "" {
		return nil, fmt.Errorf("session identity requires an email")
	}

	now := m.now().UTC()
	s := &models.Session{
		Token:     newToken(now),
		Email:     id.Email,
		Name:      id.Name,
		Role:      id.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.log.Info("Session created", "email", id.Email, "role", id.Role, "token", logging.TokenPrefix(s.Token))
	return s, nil
}

// Lookup returns the live session for token. Every failure, including
// storage errors, is reported as ErrNoSession. An expired row is deleted.
func (m *Manager) Lookup(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	s, err := m.repo.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.log.Warn("Session lookup failed", "token", logging.TokenPrefix(token), "error", err)
		}
		return nil, ErrNoSession
	}

	if s.Expired(m.now()) {
		if err := m.repo.DeleteByToken(ctx, token); err != nil {
			m.log.Warn("Failed to delete expired session", "token", logging.TokenPrefix(token), "error", err)
		}
		return nil, ErrNoSession
	}

	return s, nil
}

// Logout deletes every session owned by email. Other tabs or devices of the
// same user are logged out too.
func (m *Manager) Logout(ctx context.Context, email string) error {
	n, err := m.repo.DeleteByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	m.log.Info("User logged out", "email", email, "sessions_deleted", n)
	return nil
}

// Revoke deletes a single session.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.repo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// PurgeExpired deletes all expired sessions and returns how many were removed.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return n, nil
}

// newToken builds "session_<unixmillis>_<32 hex chars>". The suffix comes
// from a random (v4) UUID.
func newToken(now time.Time) string {
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
}
