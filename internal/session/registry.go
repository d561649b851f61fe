// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package session holds the process-wide registry of live editing
// sessions: one tour graph plus command processor per (user, tour)
// key, constructed lazily from the store on first access and evicted
// when the user logs out or disconnects.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/metrics"
	"github.com/tourforge/tourforge/internal/tour"
)

// Key identifies one editing session.
type Key struct {
	Username string
	TourID   int64
}

// entry moves through Absent -> Loading -> Active -> Evicted. An
// entry is published to the map while still Loading; ready is closed
// once loading finishes, so a second caller arriving mid-load waits
// and then shares the first caller's instance instead of constructing
// a divergent one.
type entry struct {
	ready chan struct{}

	// mu serializes command application: the graph behind proc is
	// never mutated by two goroutines at once.
	mu      sync.Mutex
	proc    *tour.Processor
	loadErr error
}

// Registry is the shared session map. The registry lock guards only
// map reads and writes; it is never held across a store call.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	gw      tour.Gateway
}

// NewRegistry creates an empty registry backed by the given gateway.
func NewRegistry(gw tour.Gateway) *Registry {
	return &Registry{
		entries: make(map[Key]*entry),
		gw:      gw,
	}
}

// With resolves (or lazily loads) the session for the key and runs fn
// against its processor while holding that session's write lock.
// Commands from any number of connections editing the same tour are
// serialized here; their relative order is arrival order at this lock,
// last write wins.
func (r *Registry) With(ctx context.Context, username string, tourID int64, fn func(*tour.Processor) []tour.Event) ([]tour.Event, error) {
	e, err := r.resolve(ctx, username, tourID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.proc), nil
}

// resolve returns the live entry for the key, loading the tour graph
// from the store on first access.
func (r *Registry) resolve(ctx context.Context, username string, tourID int64) (*entry, error) {
	key := Key{Username: username, TourID: tourID}

	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.loadErr != nil {
			return nil, e.loadErr
		}
		return e, nil
	}

	// First access: publish a loading entry, then load outside the
	// registry lock.
	e = &entry{ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	graph, err := r.gw.LoadTourGraph(ctx, username, tourID)
	if err != nil {
		e.loadErr = fmt.Errorf("load tour %d for %s: %w", tourID, username, err)
		close(e.ready)
		// Drop the failed entry so the next access retries.
		r.mu.Lock()
		if cur, ok := r.entries[key]; ok && cur == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		logging.Error().Err(err).Str("username", username).Int64("tour_id", tourID).
			Msg("session load failed")
		return nil, e.loadErr
	}

	e.proc = tour.NewProcessor(graph, r.gw)
	close(e.ready)
	metrics.EditingSessions.Inc()
	logging.Debug().Str("username", username).Int64("tour_id", tourID).
		Msg("editing session loaded")
	return e, nil
}

// Evict drops every session belonging to the user, not just the tour
// currently being edited. Called on logout and on disconnect.
func (r *Registry) Evict(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.entries {
		if key.Username == username {
			delete(r.entries, key)
			n++
		}
	}
	if n > 0 {
		metrics.EditingSessions.Sub(float64(n))
		logging.Debug().Str("username", username).Int("sessions", n).
			Msg("editing sessions evicted")
	}
	return n
}

// Remove drops the single session for a tour, used when the tour
// itself is deleted.
func (r *Registry) Remove(username string, tourID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[Key{Username: username, TourID: tourID}]; ok {
		delete(r.entries, Key{Username: username, TourID: tourID})
		metrics.EditingSessions.Dec()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
