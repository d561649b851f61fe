// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package services

import (
	"context"
	"time"

	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/metrics"
)

// ExpiredCleaner matches the auth session store's sweep method.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// SessionSweeperService periodically removes expired auth sessions
// from the session store. Runs in the data layer of the tree.
type SessionSweeperService struct {
	store    ExpiredCleaner
	interval time.Duration
	name     string
}

// NewSessionSweeperService creates a sweeper with the given interval.
func NewSessionSweeperService(store ExpiredCleaner, interval time.Duration) *SessionSweeperService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SessionSweeperService{
		store:    store,
		interval: interval,
		name:     "session-sweeper",
	}
}

// Serve implements suture.Service. A failed sweep is logged and
// retried on the next tick rather than crashing the service.
func (s *SessionSweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.store.CleanupExpired(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				metrics.SessionsSwept.Add(float64(n))
				logging.Debug().Int("sessions", n).Msg("expired sessions swept")
			}
		}
	}
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *SessionSweeperService) String() string {
	return s.name
}
