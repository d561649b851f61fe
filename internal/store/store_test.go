// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/tour"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newTestStore(t *testing.T) *DB {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "ada", "$2a$fakehash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, "ada", "$2a$otherhash"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate CreateUser err = %v, want ErrUserExists", err)
	}

	hash, err := s.UserHash(ctx, "ada")
	if err != nil || hash != "$2a$fakehash" {
		t.Fatalf("UserHash = (%q, %v)", hash, err)
	}
	if _, err := s.UserHash(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown UserHash err = %v, want ErrNotFound", err)
	}
}

func TestTours(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTour(ctx, "ada", "Museum")
	if err != nil {
		t.Fatalf("CreateTour: %v", err)
	}
	second, err := s.CreateTour(ctx, "ada", "Gallery")
	if err != nil {
		t.Fatalf("CreateTour: %v", err)
	}
	if _, err := s.CreateTour(ctx, "grace", "Workshop"); err != nil {
		t.Fatalf("CreateTour: %v", err)
	}

	tours, err := s.ListTours(ctx, "ada")
	if err != nil {
		t.Fatalf("ListTours: %v", err)
	}
	if len(tours) != 2 {
		t.Fatalf("len(tours) = %d, want 2", len(tours))
	}
	// Same modification time, so the newer id sorts first.
	if tours[0].ID != second || tours[1].ID != first {
		t.Errorf("tour order = [%d, %d], want [%d, %d]", tours[0].ID, tours[1].ID, second, first)
	}
	if tours[0].Name != "Gallery" {
		t.Errorf("name = %q", tours[0].Name)
	}

	owned, err := s.TourOwnedBy(ctx, "ada", first)
	if err != nil || !owned {
		t.Errorf("TourOwnedBy(ada) = (%v, %v)", owned, err)
	}
	owned, err = s.TourOwnedBy(ctx, "grace", first)
	if err != nil || owned {
		t.Errorf("TourOwnedBy(grace) = (%v, %v)", owned, err)
	}

	if err := s.DeleteTour(ctx, "grace", first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign DeleteTour err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTour(ctx, "ada", first); err != nil {
		t.Fatalf("DeleteTour: %v", err)
	}
	tours, err = s.ListTours(ctx, "ada")
	if err != nil || len(tours) != 1 {
		t.Fatalf("after delete: (%d tours, %v)", len(tours), err)
	}
}

func TestSceneRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tourID, err := s.CreateTour(ctx, "ada", "Museum")
	if err != nil {
		t.Fatalf("CreateTour: %v", err)
	}

	lobby, err := s.CreateScene(ctx, tourID, "Lobby", "assets/lobby.jpg")
	if err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	hall, err := s.CreateScene(ctx, tourID, "Hall", "assets/hall.jpg")
	if err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	connID, err := s.CreateConnection(ctx, tourID, lobby, tour.Connection{
		Kind:     tour.KindTransition,
		TargetID: hall,
		Position: tour.Position{X: 0.25, Y: 0.5},
		Icon:     2,
	})
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	fov := 95.0
	if err := s.UpdateScene(ctx, lobby, tour.ScenePatch{
		ViewX: floatPtr(0.1), ViewY: floatPtr(0.2), FOV: &fov,
	}); err != nil {
		t.Fatalf("UpdateScene: %v", err)
	}
	if err := s.SetInitialScene(ctx, tourID, lobby); err != nil {
		t.Fatalf("SetInitialScene: %v", err)
	}

	g, err := s.LoadTourGraph(ctx, "ada", tourID)
	if err != nil {
		t.Fatalf("LoadTourGraph: %v", err)
	}
	if g.SceneCount() != 2 || g.InitialSceneID() != lobby {
		t.Fatalf("scenes = %d, initial = %d", g.SceneCount(), g.InitialSceneID())
	}

	scenes := g.Scenes()
	if scenes[0].ID != lobby || scenes[1].ID != hall {
		t.Fatalf("scene order = [%d, %d]", scenes[0].ID, scenes[1].ID)
	}
	if scenes[0].InitialView == nil || scenes[0].InitialView.X != 0.1 || scenes[0].InitialView.Y != 0.2 {
		t.Errorf("initial view = %+v", scenes[0].InitialView)
	}
	if scenes[0].InitialFOV == nil || *scenes[0].InitialFOV != 95.0 {
		t.Errorf("fov = %v", scenes[0].InitialFOV)
	}

	conn, owner, ok := g.FindConnection(connID)
	if !ok || owner != lobby {
		t.Fatalf("FindConnection = (%v, %d)", ok, owner)
	}
	if conn.Kind != tour.KindTransition || conn.TargetID != hall || conn.Icon != 2 {
		t.Errorf("connection = %+v", conn)
	}
	if conn.Position.X != 0.25 || conn.Position.Y != 0.5 {
		t.Errorf("position = %+v", conn.Position)
	}

	// Graph loads are owner-scoped.
	if _, err := s.LoadTourGraph(ctx, "grace", tourID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign LoadTourGraph err = %v, want ErrNotFound", err)
	}
}

func TestUpdateConnection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tourID, _ := s.CreateTour(ctx, "ada", "Museum")
	lobby, _ := s.CreateScene(ctx, tourID, "Lobby", "assets/lobby.jpg")
	hall, _ := s.CreateScene(ctx, tourID, "Hall", "assets/hall.jpg")
	connID, err := s.CreateConnection(ctx, tourID, lobby, tour.Connection{
		Kind:     tour.KindTransition,
		TargetID: lobby,
		Position: tour.Position{X: 0.1, Y: 0.1},
	})
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	name := "to the hall"
	if err := s.UpdateConnection(ctx, connID, tour.ConnectionPatch{
		TargetID: &hall,
		Name:     &name,
		Position: &tour.Position{X: 0.7, Y: 0.3},
	}); err != nil {
		t.Fatalf("UpdateConnection: %v", err)
	}
	if err := s.UpdateConnection(ctx, 9999, tour.ConnectionPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown UpdateConnection err = %v, want ErrNotFound", err)
	}

	g, err := s.LoadTourGraph(ctx, "ada", tourID)
	if err != nil {
		t.Fatalf("LoadTourGraph: %v", err)
	}
	conn, _, ok := g.FindConnection(connID)
	if !ok {
		t.Fatal("connection missing after update")
	}
	if conn.TargetID != hall || conn.Name != "to the hall" || conn.Position.X != 0.7 {
		t.Errorf("connection = %+v", conn)
	}
}

func TestDeleteSceneCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tourID, _ := s.CreateTour(ctx, "ada", "Museum")
	lobby, _ := s.CreateScene(ctx, tourID, "Lobby", "assets/lobby.jpg")
	hall, _ := s.CreateScene(ctx, tourID, "Hall", "assets/hall.jpg")
	attic, _ := s.CreateScene(ctx, tourID, "Attic", "assets/attic.jpg")

	mustConn := func(owner int64, c tour.Connection) int64 {
		t.Helper()
		id, err := s.CreateConnection(ctx, tourID, owner, c)
		if err != nil {
			t.Fatalf("CreateConnection: %v", err)
		}
		return id
	}
	toHall := mustConn(lobby, tour.Connection{Kind: tour.KindTransition, TargetID: hall})
	closeup := mustConn(lobby, tour.Connection{Kind: tour.KindCloseup, Name: "painting", FilePath: "assets/painting.jpg"})
	backToLobby := mustConn(hall, tour.Connection{Kind: tour.KindTransition, TargetID: lobby})
	atticToHall := mustConn(attic, tour.Connection{Kind: tour.KindTransition, TargetID: hall})

	if err := s.DeleteScene(ctx, hall); err != nil {
		t.Fatalf("DeleteScene: %v", err)
	}
	if err := s.DeleteScene(ctx, hall); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteScene err = %v, want ErrNotFound", err)
	}

	g, err := s.LoadTourGraph(ctx, "ada", tourID)
	if err != nil {
		t.Fatalf("LoadTourGraph: %v", err)
	}
	if g.SceneCount() != 2 {
		t.Fatalf("scene count = %d, want 2", g.SceneCount())
	}
	for _, gone := range []int64{toHall, backToLobby, atticToHall} {
		if _, _, ok := g.FindConnection(gone); ok {
			t.Errorf("connection %d survived the cascade", gone)
		}
	}
	if _, _, ok := g.FindConnection(closeup); !ok {
		t.Error("closeup was deleted by the cascade")
	}
}

func TestDeleteTourCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tourID, _ := s.CreateTour(ctx, "ada", "Museum")
	lobby, _ := s.CreateScene(ctx, tourID, "Lobby", "assets/lobby.jpg")
	if _, err := s.CreateConnection(ctx, tourID, lobby, tour.Connection{Kind: tour.KindCloseup}); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if _, err := s.CreateAsset(ctx, tourID, "painting", "assets/p.jpg"); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	if err := s.DeleteTour(ctx, "ada", tourID); err != nil {
		t.Fatalf("DeleteTour: %v", err)
	}
	if _, err := s.LoadTourGraph(ctx, "ada", tourID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadTourGraph err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateScene(ctx, lobby, tour.ScenePatch{Name: strPtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateScene after cascade err = %v, want ErrNotFound", err)
	}
}

func TestAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tourID, _ := s.CreateTour(ctx, "ada", "Museum")
	assetID, err := s.CreateAsset(ctx, tourID, "painting", "assets/p.jpg")
	if err != nil || assetID == 0 {
		t.Fatalf("CreateAsset = (%d, %v)", assetID, err)
	}
	if err := s.UpdateAssetPath(ctx, assetID, "assets/p2.jpg"); err != nil {
		t.Fatalf("UpdateAssetPath: %v", err)
	}
	if err := s.UpdateAssetPath(ctx, 9999, "assets/x.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown UpdateAssetPath err = %v, want ErrNotFound", err)
	}
}

func TestClearInitialScene(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tourID, _ := s.CreateTour(ctx, "ada", "Museum")
	lobby, _ := s.CreateScene(ctx, tourID, "Lobby", "assets/lobby.jpg")
	if err := s.SetInitialScene(ctx, tourID, lobby); err != nil {
		t.Fatalf("SetInitialScene: %v", err)
	}
	if err := s.ClearInitialScene(ctx, tourID); err != nil {
		t.Fatalf("ClearInitialScene: %v", err)
	}

	g, err := s.LoadTourGraph(ctx, "ada", tourID)
	if err != nil {
		t.Fatalf("LoadTourGraph: %v", err)
	}
	if g.InitialSceneID() != tour.UnassignedID {
		t.Errorf("initial = %d, want unassigned", g.InitialSceneID())
	}
}

func floatPtr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }
