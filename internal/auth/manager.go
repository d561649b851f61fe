// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tourforge/tourforge/internal/logging"
)

var (
	// ErrInvalidCredentials is returned for a bad username/password
	// pair. Unknown-user and wrong-password cases are deliberately
	// indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUsernameTaken is returned by Register for an existing account.
	ErrUsernameTaken = errors.New("username already taken")
)

// CredentialStore is the account storage consumed by the Manager,
// implemented by the sqlite store.
type CredentialStore interface {
	// CreateUser stores a new account with a pre-hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) error

	// UserHash returns the stored password hash for the username.
	UserHash(ctx context.Context, username string) (string, error)
}

// Config holds auth manager settings.
type Config struct {
	// SessionLifetime is how long a login lasts without activity.
	SessionLifetime time.Duration

	// BcryptCost is the bcrypt work factor. 0 uses the library default.
	BcryptCost int

	// JWTSecret signs restore-session tokens.
	JWTSecret string
}

// Manager ties together credential verification, session tracking,
// and restore-token issuance.
type Manager struct {
	creds    CredentialStore
	sessions SessionStore
	cfg      Config
}

// NewManager creates an auth manager.
func NewManager(creds CredentialStore, sessions SessionStore, cfg Config) *Manager {
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Manager{creds: creds, sessions: sessions, cfg: cfg}
}

// Register creates an account with a bcrypt-hashed password.
func (m *Manager) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.creds.CreateUser(ctx, username, string(hash)); err != nil {
		if isDuplicateUser(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	logging.Info().Str("username", username).Msg("account registered")
	return nil
}

// Login verifies credentials and creates a session. On success it also
// issues a restore token the client can present after a reconnect.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, string, error) {
	hash, err := m.creds.UserHash(ctx, username)
	if err != nil {
		logging.Debug().Str("username", username).Msg("login for unknown user")
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		logging.Debug().Str("username", username).Msg("login with wrong password")
		return nil, "", ErrInvalidCredentials
	}

	session := NewSession(username, m.cfg.SessionLifetime)
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("store session: %w", err)
	}

	token, err := m.issueRestoreToken(session)
	if err != nil {
		// The login itself succeeded; a missing restore token only
		// costs the client a re-login after reconnect.
		logging.Warn().Err(err).Str("username", username).Msg("restore token not issued")
		token = ""
	}

	logging.Info().Str("username", username).Msg("login succeeded")
	return session, token, nil
}

// Logout drops every session for the user.
func (m *Manager) Logout(ctx context.Context, username string) error {
	n, err := m.sessions.DeleteByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	logging.Info().Str("username", username).Int("sessions", n).Msg("logged out")
	return nil
}

// Restore resumes a login from a restore token issued by Login. The
// referenced session must still exist and be unexpired.
func (m *Manager) Restore(ctx context.Context, token string) (*Session, error) {
	sessionID, _, err := m.parseRestoreToken(token)
	if err != nil {
		return nil, err
	}
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Sliding expiry: activity extends the session.
	_ = m.sessions.Touch(ctx, sessionID, time.Now().Add(m.cfg.SessionLifetime))
	return session, nil
}

// Touch extends a session on command activity.
func (m *Manager) Touch(ctx context.Context, sessionID string) {
	_ = m.sessions.Touch(ctx, sessionID, time.Now().Add(m.cfg.SessionLifetime))
}

func isDuplicateUser(err error) bool {
	// The store reports duplicates with its own sentinel; match on the
	// message to avoid importing the store package here.
	return err != nil && (errors.Is(err, ErrUsernameTaken) ||
		strings.Contains(err.Error(), "already exists"))
}
