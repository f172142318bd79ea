package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the account role stored with every user.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(value string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleUser, RoleSeller, RoleAdmin:
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// CanModerate reports whether the role may issue chat moderation commands.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleSeller
}

// User represents a row in the users table.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// CreateUser inserts a new user and returns its id. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte, role Role) (string, error) {
	if role == "" {
		role = RoleUser
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, username, password_hash, role) VALUES(?, ?, ?, ?)`, id, username, passwordHash, string(role))
	if err != nil {
		if isConstraintError(err) {
			return "", ErrUserExists
		}
		return "", err
	}
	return id, nil
}

// GetUserByUsername fetches a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UpdateRole changes the role of an existing user. sql.ErrNoRows is returned
// when no user matched.
func (s *Store) UpdateRole(ctx context.Context, id string, role Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, string(role), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UsernamesByID resolves display names for the given ids. Unknown ids are
// absent from the result.
func (s *Store) UsernamesByID(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, username FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, err
		}
		names[id] = username
	}
	return names, rows.Err()
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var role string
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = Role(role)
	return &user, nil
}
