package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Conversation is a persistent two-party thread keyed by a normalized
// unordered pair of usernames.
type Conversation struct {
	ID        int64
	UserA     string
	UserB     string
	CreatedAt time.Time
}

// Peer returns the participant other than self, or "" when self is not a
// participant.
func (c Conversation) Peer(self string) string {
	switch self {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	default:
		return ""
	}
}

// FindConversation looks up the conversation between two users, in either
// order. Returns ErrNotFound when the pair has never talked.
func (s *Store) FindConversation(ctx context.Context, u1, u2 string) (int64, error) {
	a, b := NormalizePair(u1, u2)
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE user_a = ? AND user_b = ?`, a, b).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select conversation (%s,%s): %w", a, b, err)
	}
	return id, nil
}

// CreateConversation resolves the conversation for a pair of users,
// inserting it if absent. The insert and the re-read run in one
// transaction so two concurrent first messages between the same pair
// converge on a single row instead of failing on the unique constraint.
func (s *Store) CreateConversation(ctx context.Context, u1, u2 string) (int64, error) {
	a, b := NormalizePair(u1, u2)
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversations (user_a, user_b, created_at) VALUES (?, ?, ?)`,
			a, b, toMillis(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("insert conversation (%s,%s): %w", a, b, err)
		}
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE user_a = ? AND user_b = ?`, a, b).Scan(&id)
		if err != nil {
			return fmt.Errorf("reread conversation (%s,%s): %w", a, b, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ConversationByID loads a single conversation row.
func (s *Store) ConversationByID(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_a, user_b, created_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.UserA, &c.UserB, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("select conversation %d: %w", id, err)
	}
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

// OtherParticipant resolves the peer of self inside a conversation.
// Returns ErrNotFound when the conversation does not exist or self is not
// one of its two participants.
func (s *Store) OtherParticipant(ctx context.Context, id int64, self string) (string, error) {
	c, err := s.ConversationByID(ctx, id)
	if err != nil {
		return "", err
	}
	peer := c.Peer(self)
	if peer == "" {
		return "", ErrNotFound
	}
	return peer, nil
}

// ConversationsFor lists every conversation the user participates in,
// newest first.
func (s *Store) ConversationsFor(ctx context.Context, username string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_a, user_b, created_at FROM conversations
		 WHERE user_a = ? OR user_b = ? ORDER BY id DESC`, username, username)
	if err != nil {
		return nil, fmt.Errorf("select conversations for %s: %w", username, err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserA, &c.UserB, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
