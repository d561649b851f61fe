// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package store is the sqlite-backed persistence layer: user accounts,
// tour metadata, scenes, connections, and detail assets. It implements
// tour.Gateway, so the editor writes through here before touching any
// in-memory state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tourforge/tourforge/internal/logging"
)

// Config holds store configuration.
type Config struct {
	// Path is the sqlite database file. ":memory:" is accepted for
	// tests.
	Path string

	// MaxOpenConns bounds the connection pool. sqlite allows a single
	// writer, so the default of 1 avoids SQLITE_BUSY churn.
	MaxOpenConns int
}

// DB wraps the sql handle with a prepared-statement cache.
type DB struct {
	db  *sql.DB
	cfg Config

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// New opens (creating if necessary) the database, verifies the
// connection, and runs migrations.
func New(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("store: create database directory: %w", err)
			}
		}
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: verify connection: %w", err)
	}

	s := &DB{
		db:        db,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Msg("store opened")
	return s, nil
}

// Close releases cached statements and the underlying handle.
func (s *DB) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()
	return s.db.Close()
}

// prepare returns a cached prepared statement, preparing it on first use.
func (s *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: prepare statement: %w", err)
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}

func (s *DB) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tours (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	owner            TEXT    NOT NULL,
	name             TEXT    NOT NULL,
	location         TEXT    NOT NULL DEFAULT '',
	initial_scene_id INTEGER,
	has_floorplan    INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT    NOT NULL DEFAULT (datetime('now')),
	modified_at      TEXT    NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scenes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tour_id   INTEGER NOT NULL REFERENCES tours(id) ON DELETE CASCADE,
	name      TEXT    NOT NULL,
	file_path TEXT    NOT NULL,
	view_x    REAL,
	view_y    REAL,
	fov       REAL,
	north     REAL,
	position  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connections (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tour_id       INTEGER NOT NULL REFERENCES tours(id) ON DELETE CASCADE,
	scene_id      INTEGER NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
	target_id     INTEGER NOT NULL DEFAULT 0,
	pos_x         REAL    NOT NULL,
	pos_y         REAL    NOT NULL,
	is_transition INTEGER NOT NULL,
	name          TEXT,
	file_path     TEXT,
	icon          INTEGER NOT NULL DEFAULT 0,
	position      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tour_id   INTEGER NOT NULL REFERENCES tours(id) ON DELETE CASCADE,
	name      TEXT    NOT NULL,
	file_path TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scenes_tour ON scenes(tour_id, position);
CREATE INDEX IF NOT EXISTS idx_connections_scene ON connections(scene_id, position);
CREATE INDEX IF NOT EXISTS idx_connections_target ON connections(tour_id, target_id);
CREATE INDEX IF NOT EXISTS idx_tours_owner ON tours(owner);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
