package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"npa-monitor/pkg/npa"
)

// AddUser registers user or refreshes its profile. The role and registration
// time of an existing user are kept; an empty peer token keeps the stored one.
func (s *Store) AddUser(ctx context.Context, user npa.User) error {
	if user.ID == 0 {
		return fmt.Errorf("add user: empty id")
	}
	role := user.Role
	if role == "" {
		role = npa.DefaultRole
	}
	if _, err := npa.ParseRole(string(role)); err != nil {
		return fmt.Errorf("add user %d: %w", user.ID, err)
	}

	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, last_name, role, peer_token, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			peer_token = CASE WHEN excluded.peer_token = '' THEN users.peer_token ELSE excluded.peer_token END
	`, user.ID, user.Username, user.FirstName, user.LastName, string(role), user.PeerToken, s.now())
	if err != nil {
		return fmt.Errorf("add user %d: %w", user.ID, err)
	}

	return nil
}

// User returns one registered user.
func (s *Store) User(ctx context.Context, userID int64) (npa.User, bool, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT telegram_id, username, first_name, last_name, role, peer_token, registered_at
		FROM users WHERE telegram_id = ?
	`, userID)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return npa.User{}, false, nil
	}
	if err != nil {
		return npa.User{}, false, fmt.Errorf("get user %d: %w", userID, err)
	}

	return user, true, nil
}

// Users lists every registered user, oldest first.
func (s *Store) Users(ctx context.Context) ([]npa.User, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT telegram_id, username, first_name, last_name, role, peer_token, registered_at
		FROM users ORDER BY registered_at, telegram_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []npa.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return users, nil
}

// UserRole returns the stored role, or npa.DefaultRole for unknown users.
func (s *Store) UserRole(ctx context.Context, userID int64) (npa.Role, error) {
	var role string
	err := s.readDB.QueryRowContext(ctx, `SELECT role FROM users WHERE telegram_id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return npa.DefaultRole, nil
	}
	if err != nil {
		return npa.DefaultRole, fmt.Errorf("get role of %d: %w", userID, err)
	}

	parsed, err := npa.ParseRole(role)
	if err != nil {
		return npa.DefaultRole, nil
	}

	return parsed, nil
}

// SetUserRole returns false when the user is not registered.
func (s *Store) SetUserRole(ctx context.Context, userID int64, role npa.Role) (bool, error) {
	if _, err := npa.ParseRole(string(role)); err != nil {
		return false, fmt.Errorf("set role of %d: %w", userID, err)
	}

	result, err := s.writeDB.ExecContext(ctx, `UPDATE users SET role = ? WHERE telegram_id = ?`, string(role), userID)
	if err != nil {
		return false, fmt.Errorf("set role of %d: %w", userID, err)
	}

	return affected(result)
}

// PeerToken returns the stored transport peer token of a user. Unregistered
// users yield npa.ErrUserNotFound.
func (s *Store) PeerToken(ctx context.Context, userID int64) (string, error) {
	var token string
	err := s.readDB.QueryRowContext(ctx, `SELECT peer_token FROM users WHERE telegram_id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get peer token of %d: %w", userID, npa.ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get peer token of %d: %w", userID, err)
	}

	return token, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (npa.User, error) {
	var (
		user         npa.User
		role         string
		registeredAt time.Time
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&role,
		&user.PeerToken,
		&registeredAt,
	); err != nil {
		return npa.User{}, err
	}

	user.Role = npa.DefaultRole
	if parsed, err := npa.ParseRole(role); err == nil {
		user.Role = parsed
	}
	user.RegisteredAt = registeredAt

	return user, nil
}

func affected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return rows > 0, nil
}
