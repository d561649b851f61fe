// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrUserExists is returned by CreateUser for a taken username.
var ErrUserExists = errors.New("store: username already exists")

// CreateUser inserts an account row. The password hash is produced by
// the auth layer; the store never sees a plaintext password.
func (s *DB) CreateUser(ctx context.Context, username, passwordHash string) error {
	stmt, err := s.prepare(ctx, "INSERT INTO users (username, password_hash) VALUES (?, ?)")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, username, passwordHash); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("store: insert user: %w", err)
	}
	return nil
}

// UserHash returns the stored password hash for a username, or
// ErrNotFound for an unknown account.
func (s *DB) UserHash(ctx context.Context, username string) (string, error) {
	stmt, err := s.prepare(ctx, "SELECT password_hash FROM users WHERE username = ?")
	if err != nil {
		return "", err
	}
	var hash string
	err = stmt.QueryRowContext(ctx, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: look up user: %w", err)
	}
	return hash, nil
}
