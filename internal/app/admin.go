package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"livecart/internal/auth"
	"livecart/internal/storage"
)

// ErrUnknownUser is returned when an admin command names a missing account.
var ErrUnknownUser = errors.New("unknown user")

// AddUser creates an account with a bcrypt-hashed password.
func AddUser(ctx context.Context, store *storage.Store, username, password string, role storage.Role) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return store.CreateUser(ctx, username, hash, role)
}

// SetRole changes the role of the named account.
func SetRole(ctx context.Context, store *storage.Store, username string, role storage.Role) error {
	user, err := store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnknownUser
	}
	return store.UpdateRole(ctx, user.ID, role)
}

// MintToken issues a session token for the named account.
func MintToken(ctx context.Context, store *storage.Store, cfg ServerConfig, username string) (string, error) {
	user, err := store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUnknownUser
	}
	token, _, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL).Issue(user.ID)
	return token, err
}
