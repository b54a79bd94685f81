package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/primal-host/chaton/internal/database"
)

// ErrNoSession is returned when a token has no live session behind it.
var ErrNoSession = errors.New("auth: session not found")

// Session is an established login session.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
}

// Manager creates, resolves and destroys sessions. Rows live in the
// sessions table; the client holds a signed token naming the row.
type Manager struct {
	db       *database.DB
	tokens   *TokenSigner
	lifetime time.Duration
}

// NewManager creates a session Manager.
func NewManager(db *database.DB, tokens *TokenSigner, lifetime time.Duration) *Manager {
	return &Manager{db: db, tokens: tokens, lifetime: lifetime}
}

// Create establishes a new session for userID.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID) (*Session, error) {
	sess := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(m.lifetime).UTC().Truncate(time.Second),
	}

	token, err := m.tokens.Sign(sess.ID, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	sess.Token = token

	_, err = m.db.Pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		sess.ID, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("auth: create session for %s: %w", userID, err)
	}
	return sess, nil
}

// Resolve validates token and returns its live session. Returns
// ErrInvalidToken for bad tokens and ErrNoSession when the row is gone
// or expired.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	id, err := m.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	sess := &Session{ID: id, Token: token}
	err = m.db.Pool.QueryRow(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE id = $1 AND expires_at > NOW()`, id,
	).Scan(&sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: resolve session %s: %w", id, err)
	}
	return sess, nil
}

// Destroy deletes a session. Destroying a missing session is not an
// error.
func (m *Manager) Destroy(ctx context.Context, id uuid.UUID) error {
	if _, err := m.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: destroy session %s: %w", id, err)
	}
	return nil
}

// PurgeExpired deletes every expired session row and returns how many
// were removed.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := m.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("auth: purge expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// RunJanitor purges expired sessions every interval until ctx is
// cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.PurgeExpired(ctx)
			if err != nil {
				log.Printf("Warning: session purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Purged %d expired sessions", n)
			}
		}
	}
}
