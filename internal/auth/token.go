// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for restore tokens that fail signature
// or claim validation.
var ErrInvalidToken = errors.New("invalid restore token")

// restoreClaims are the claims carried by a restore-session token.
// The jti claim is the session id; resuming still requires that
// session to be live in the store, so a token alone cannot outlast a
// logout.
type restoreClaims struct {
	jwt.RegisteredClaims
}

// issueRestoreToken signs a token referencing the session.
func (m *Manager) issueRestoreToken(session *Session) (string, error) {
	if m.cfg.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := restoreClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Username,
			ID:        session.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			Issuer:    "tourforge",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign restore token: %w", err)
	}
	return signed, nil
}

// parseRestoreToken validates the signature and claims and returns
// (session id, username).
func (m *Manager) parseRestoreToken(tokenString string) (string, string, error) {
	if m.cfg.JWTSecret == "" {
		return "", "", ErrInvalidToken
	}
	claims := &restoreClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.JWTSecret), nil
	}, jwt.WithIssuer("tourforge"), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.ID, claims.Subject, nil
}
