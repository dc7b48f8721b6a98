package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message kinds understood by the relay. The column is free-form so new
// media kinds can be added without a schema change.
const (
	KindText = "text"
	KindGIF  = "gif"
)

// Message is a persisted chat message. ID is assigned by the database and
// is the display order inside a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Sender         string
	Kind           string
	Body           string
	SentAt         time.Time
	Read           bool
}

// InsertMessage persists a message against a conversation and returns the
// stored row with its server-assigned id and timestamp. Messages default
// to unread.
func (s *Store) InsertMessage(ctx context.Context, conversationID int64, sender, kind, body string) (Message, error) {
	if kind == "" {
		kind = KindText
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender, kind, body, ts) VALUES (?, ?, ?, ?, ?)`,
		conversationID, sender, kind, body, toMillis(now),
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("message id: %w", err)
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         sender,
		Kind:           kind,
		Body:           body,
		SentAt:         fromMillis(toMillis(now)),
	}, nil
}

// History returns every message of a conversation in ascending id order
// and, in the same transaction, marks the messages sent by the other
// participant as read.
func (s *Store) History(ctx context.Context, conversationID int64, reader string) ([]Message, error) {
	var out []Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, conversation_id, sender, kind, body, ts, read FROM messages
			 WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
		if err != nil {
			return fmt.Errorf("select history: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET read = 1 WHERE conversation_id = ? AND sender <> ?`,
			conversationID, reader)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastMessage returns the most recent message of a conversation, or
// ErrNotFound for an empty thread.
func (s *Store) LastMessage(ctx context.Context, conversationID int64) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender, kind, body, ts, read FROM messages
		 WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// UnreadCount counts messages in a conversation that the reader has not
// yet retrieved.
func (s *Store) UnreadCount(ctx context.Context, conversationID int64, reader string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender <> ? AND read = 0`,
		conversationID, reader).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var ts int64
	var read int
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Kind, &m.Body, &ts, &read); err != nil {
		return Message{}, err
	}
	m.SentAt = fromMillis(ts)
	m.Read = read != 0
	return m, nil
}
