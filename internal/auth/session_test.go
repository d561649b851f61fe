// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateGetDelete(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	sess := NewSession("ada", time.Hour)
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Username != "ada" {
		t.Fatalf("username = %q", got.Username)
	}

	// Get returns a copy; mutating it must not touch the store.
	got.Username = "mallory"
	again, _ := s.Get(ctx, sess.ID)
	if again.Username != "ada" {
		t.Fatal("store copy was mutated through a Get result")
	}

	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	sess := NewSession("ada", -time.Minute)
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	// Touch revives the session with a new expiry.
	if err := s.Touch(ctx, sess.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if _, err := s.Get(ctx, sess.ID); err != nil {
		t.Fatalf("Get after touch: %v", err)
	}
}

func TestMemoryStoreDeleteByUsername(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, NewSession("ada", time.Hour)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := NewSession("grace", time.Hour)
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := s.DeleteByUsername(ctx, "ada")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByUsername = (%d, %v), want (3, nil)", n, err)
	}
	if _, err := s.Get(ctx, other.ID); err != nil {
		t.Fatal("unrelated user's session was deleted")
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	live := NewSession("ada", time.Hour)
	dead1 := NewSession("ada", -time.Minute)
	dead2 := NewSession("grace", -time.Hour)
	for _, sess := range []*Session{live, dead1, dead2} {
		if err := s.Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := s.CleanupExpired(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CleanupExpired = (%d, %v), want (2, nil)", n, err)
	}
	if _, err := s.Get(ctx, live.ID); err != nil {
		t.Fatal("live session swept")
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess := NewSession("ada", time.Hour)
		if len(sess.ID) != 64 {
			t.Fatalf("session id length = %d, want 64 hex chars", len(sess.ID))
		}
		if seen[sess.ID] {
			t.Fatal("duplicate session id generated")
		}
		seen[sess.ID] = true
	}
}
