// Package message persists direct messages between two identities.
// Messages are immutable: there is no edit or delete path apart from the
// identity cascade. The realtime relay is the only writer.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/primal-host/chaton/internal/database"
)

// ErrEmptyContent is returned when a message has no text.
var ErrEmptyContent = errors.New("message: content is empty")

// Message is a persisted direct message with both participants resolved
// to usernames.
type Message struct {
	ID               uuid.UUID `json:"id"`
	Content          string    `json:"content"`
	SenderID         uuid.UUID `json:"-"`
	ReceiverID       uuid.UUID `json:"-"`
	SenderUsername   string    `json:"senderUsername"`
	ReceiverUsername string    `json:"receiverUsername"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store persists messages in PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a message Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.Content, &m.SenderID, &m.ReceiverID,
		&m.SenderUsername, &m.ReceiverUsername, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a message with a server-assigned id and timestamp and
// returns it with both usernames resolved.
func (s *Store) Create(ctx context.Context, senderID, receiverID uuid.UUID, body string) (*Message, error) {
	if body == "" {
		return nil, ErrEmptyContent
	}

	m, err := scanMessage(s.db.Pool.QueryRow(ctx,
		`WITH m AS (
		     INSERT INTO messages (id, content, sender_id, receiver_id)
		     VALUES ($1, $2, $3, $4)
		     RETURNING id, content, sender_id, receiver_id, created_at)
		 SELECT m.id, m.content, m.sender_id, m.receiver_id, su.username, ru.username, m.created_at
		 FROM m
		 JOIN users su ON su.id = m.sender_id
		 JOIN users ru ON ru.id = m.receiver_id`,
		uuid.New(), body, senderID, receiverID,
	))
	if err != nil {
		return nil, fmt.Errorf("message: create %s -> %s: %w", senderID, receiverID, err)
	}
	return m, nil
}

const messageSelect = `
SELECT m.id, m.content, m.sender_id, m.receiver_id, su.username, ru.username, m.created_at
FROM messages m
JOIN users su ON su.id = m.sender_id
JOIN users ru ON ru.id = m.receiver_id`

func (s *Store) query(ctx context.Context, what, sql string, args ...any) ([]Message, error) {
	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("message: %s: %w", what, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("message: %s scan: %w", what, err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// Conversation returns every message exchanged between a and b, oldest
// first.
func (s *Store) Conversation(ctx context.Context, a, b uuid.UUID) ([]Message, error) {
	return s.query(ctx, "conversation", messageSelect+`
		WHERE (m.sender_id = $1 AND m.receiver_id = $2)
		   OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.created_at ASC, m.id`, a, b)
}

// ForUser returns every message sent or received by id, newest first.
func (s *Store) ForUser(ctx context.Context, id uuid.UUID) ([]Message, error) {
	return s.query(ctx, "for user", messageSelect+`
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.created_at DESC, m.id`, id)
}

// Counterparts returns the usernames id has exchanged messages with,
// ordered by username.
func (s *Store) Counterparts(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT DISTINCT u.username
		 FROM messages m
		 JOIN users u ON u.id = CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END
		 WHERE m.sender_id = $1 OR m.receiver_id = $1
		 ORDER BY u.username`, id)
	if err != nil {
		return nil, fmt.Errorf("message: counterparts %s: %w", id, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("message: counterparts scan: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the total number of stored messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("message: count: %w", err)
	}
	return n, nil
}
