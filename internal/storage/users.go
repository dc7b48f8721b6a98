package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a stored account profile. PasswordHash is the encoded argon2id
// hash; it never leaves the auth layer.
type User struct {
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	AvatarURL    string
	LastSeen     time.Time
	CreatedAt    time.Time
}

const userColumns = `username, password_hash, first_name, last_name, avatar_url, COALESCE(last_seen, 0), created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var lastSeen, createdAt int64
	if err := row.Scan(&u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.AvatarURL, &lastSeen, &createdAt); err != nil {
		return User{}, err
	}
	if lastSeen > 0 {
		u.LastSeen = fromMillis(lastSeen)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// CreateUser inserts a new account. Returns ErrDuplicateUser when the
// username is already taken.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("insert user %s: %w", username, err)
	}
	return nil
}

// UserByUsername looks up a single account. Returns ErrNotFound when the
// username is unknown.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user %s: %w", username, err)
	}
	return u, nil
}

// UpdateProfile replaces the display fields of an account.
func (s *Store) UpdateProfile(ctx context.Context, username, firstName, lastName, avatarURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET first_name = ?, last_name = ?, avatar_url = ? WHERE username = ?`,
		firstName, lastName, avatarURL, username,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", username, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers returns up to limit accounts whose username contains q.
func (s *Store) SearchUsers(ctx context.Context, q string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username LIKE ? ORDER BY username LIMIT ?`,
		"%"+q+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// TouchLastSeen records the most recent moment a user was connected.
func (s *Store) TouchLastSeen(ctx context.Context, username string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = ? WHERE username = ?`, toMillis(t), username)
	if err != nil {
		return fmt.Errorf("touch last seen %s: %w", username, err)
	}
	return nil
}

// isUniqueViolation detects SQLite unique-constraint failures without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
