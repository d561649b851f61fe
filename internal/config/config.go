// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package config loads application configuration with Koanf v2.
//
// Loading order:
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (highest priority)
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
	Assets     AssetsConfig     `koanf:"assets"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port is the listen port. Default: 1112
	Port int `koanf:"port"`

	// Timeout applies to HTTP read and write. Default: 30s
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	// Path is the sqlite database file. Default: /data/tourforge.db
	Path string `koanf:"path"`
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	// JWTSecret signs restore-session tokens. Required in production;
	// when empty, restore tokens are not issued.
	JWTSecret string `koanf:"jwt_secret"`

	// SessionTimeout is the auth-session inactivity window. Default: 24h
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// SessionStore selects "memory" or "badger". Default: badger
	SessionStore string `koanf:"session_store"`

	// SessionStorePath is the badger directory. Default: /data/sessions
	SessionStorePath string `koanf:"session_store_path"`

	// SessionSweepInterval is how often expired sessions are trimmed.
	// Default: 5m
	SessionSweepInterval time.Duration `koanf:"session_sweep_interval"`

	// BcryptCost is the password hashing work factor. 0 = library default.
	BcryptCost int `koanf:"bcrypt_cost"`

	// RateLimitReqs is the per-connection command budget per window.
	// Default: 60
	RateLimitReqs int `koanf:"rate_limit_reqs"`

	// RateLimitWindow is the rate limit window. Default: 1m
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AssetsConfig holds panorama asset storage settings.
type AssetsConfig struct {
	// Dir is where uploaded and imported images live. Default: /data/assets
	Dir string `koanf:"dir"`
}

// SupervisorConfig tunes the suture supervision tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	switch c.Security.SessionStore {
	case "memory", "badger":
	default:
		return fmt.Errorf("config: unknown session store %q", c.Security.SessionStore)
	}
	if c.Security.SessionStore == "badger" && c.Security.SessionStorePath == "" {
		return fmt.Errorf("config: session store path is required for badger")
	}
	if c.Security.SessionTimeout <= 0 {
		return fmt.Errorf("config: session timeout must be positive")
	}
	if c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("config: rate limit must be at least 1 request per window")
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("config: rate limit window must be positive")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}
