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
	"time"

	"github.com/tourforge/tourforge/internal/metrics"
	"github.com/tourforge/tourforge/internal/tour"
)

// ErrNotFound is returned when a referenced row does not exist or is
// not visible to the requesting user.
var ErrNotFound = errors.New("store: not found")

// CreateScene inserts a scene row at the end of the tour's display
// order and returns the assigned id.
func (s *DB) CreateScene(ctx context.Context, tourID int64, name, filePath string) (_ int64, err error) {
	defer observeCall("create_scene")(&err)

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO scenes (tour_id, name, file_path, position)
			VALUES (?, ?, ?, (SELECT COUNT(*) FROM scenes WHERE tour_id = ?))`,
			tourID, name, filePath, tourID)
		if err != nil {
			return fmt.Errorf("store: insert scene: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: scene id: %w", err)
		}
		return s.touchTour(ctx, tx, tourID)
	})
	return id, err
}

// UpdateScene applies the non-nil fields of the patch to one scene row.
func (s *DB) UpdateScene(ctx context.Context, sceneID int64, patch tour.ScenePatch) (err error) {
	defer observeCall("update_scene")(&err)

	var (
		sets []string
		args []interface{}
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *patch.FilePath)
	}
	if patch.ViewX != nil {
		sets = append(sets, "view_x = ?")
		args = append(args, *patch.ViewX)
	}
	if patch.ViewY != nil {
		sets = append(sets, "view_y = ?")
		args = append(args, *patch.ViewY)
	}
	if patch.FOV != nil {
		sets = append(sets, "fov = ?")
		args = append(args, *patch.FOV)
	}
	if patch.North != nil {
		sets = append(sets, "north = ?")
		args = append(args, *patch.North)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sceneID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE scenes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update scene %d: %w", sceneID, err)
	}
	return requireRows(res)
}

// DeleteScene removes the scene row, every connection it owns, and
// every connection elsewhere in the tour that targets it, in one
// transaction.
func (s *DB) DeleteScene(ctx context.Context, sceneID int64) (err error) {
	defer observeCall("delete_scene")(&err)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var tourID int64
		err := tx.QueryRowContext(ctx, "SELECT tour_id FROM scenes WHERE id = ?", sceneID).Scan(&tourID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: look up scene %d: %w", sceneID, err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM connections WHERE scene_id = ? OR (tour_id = ? AND is_transition = 1 AND target_id = ?)",
			sceneID, tourID, sceneID); err != nil {
			return fmt.Errorf("store: cascade connections for scene %d: %w", sceneID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", sceneID); err != nil {
			return fmt.Errorf("store: delete scene %d: %w", sceneID, err)
		}
		return s.touchTour(ctx, tx, tourID)
	})
}

// CreateConnection inserts a connection row at the end of the owning
// scene's list and returns the assigned id.
func (s *DB) CreateConnection(ctx context.Context, tourID, ownerSceneID int64, c tour.Connection) (_ int64, err error) {
	defer observeCall("create_connection")(&err)

	isTransition := 0
	if c.Kind == tour.KindTransition {
		isTransition = 1
	}
	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO connections (tour_id, scene_id, target_id, pos_x, pos_y, is_transition, name, file_path, icon, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COUNT(*) FROM connections WHERE scene_id = ?))`,
			tourID, ownerSceneID, c.TargetID, c.Position.X, c.Position.Y,
			isTransition, nullString(c.Name), nullString(c.FilePath), c.Icon, ownerSceneID)
		if err != nil {
			return fmt.Errorf("store: insert connection: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: connection id: %w", err)
		}
		return s.touchTour(ctx, tx, tourID)
	})
	return id, err
}

// UpdateConnection applies the non-nil fields of the patch to one
// connection row.
func (s *DB) UpdateConnection(ctx context.Context, connID int64, patch tour.ConnectionPatch) (err error) {
	defer observeCall("update_connection")(&err)

	var (
		sets []string
		args []interface{}
	)
	if patch.TargetID != nil {
		sets = append(sets, "target_id = ?")
		args = append(args, *patch.TargetID)
	}
	if patch.Position != nil {
		sets = append(sets, "pos_x = ?", "pos_y = ?")
		args = append(args, patch.Position.X, patch.Position.Y)
	}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Icon != nil {
		sets = append(sets, "icon = ?")
		args = append(args, *patch.Icon)
	}
	if patch.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *patch.FilePath)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, connID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE connections SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update connection %d: %w", connID, err)
	}
	return requireRows(res)
}

// DeleteConnection removes a single connection row.
func (s *DB) DeleteConnection(ctx context.Context, connID int64) (err error) {
	defer observeCall("delete_connection")(&err)

	res, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", connID)
	if err != nil {
		return fmt.Errorf("store: delete connection %d: %w", connID, err)
	}
	return requireRows(res)
}

// CreateAsset stores a closeup detail asset and returns its id.
func (s *DB) CreateAsset(ctx context.Context, tourID int64, name, filePath string) (_ int64, err error) {
	defer observeCall("create_asset")(&err)

	stmt, err := s.prepare(ctx, "INSERT INTO assets (tour_id, name, file_path) VALUES (?, ?, ?)")
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, tourID, name, filePath)
	if err != nil {
		return 0, fmt.Errorf("store: insert asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: asset id: %w", err)
	}
	return id, nil
}

// UpdateAssetPath replaces the stored path of a detail asset.
func (s *DB) UpdateAssetPath(ctx context.Context, assetID int64, filePath string) (err error) {
	defer observeCall("update_asset_path")(&err)

	res, err := s.db.ExecContext(ctx, "UPDATE assets SET file_path = ? WHERE id = ?", filePath, assetID)
	if err != nil {
		return fmt.Errorf("store: update asset %d: %w", assetID, err)
	}
	return requireRows(res)
}

// SetInitialScene persists the tour's initial-scene pointer.
func (s *DB) SetInitialScene(ctx context.Context, tourID, sceneID int64) (err error) {
	defer observeCall("set_initial_scene")(&err)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tours SET initial_scene_id = ?, modified_at = datetime('now') WHERE id = ?",
		sceneID, tourID)
	if err != nil {
		return fmt.Errorf("store: set initial scene: %w", err)
	}
	return requireRows(res)
}

// ClearInitialScene nulls the tour's initial-scene pointer.
func (s *DB) ClearInitialScene(ctx context.Context, tourID int64) (err error) {
	defer observeCall("clear_initial_scene")(&err)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tours SET initial_scene_id = NULL, modified_at = datetime('now') WHERE id = ?",
		tourID)
	if err != nil {
		return fmt.Errorf("store: clear initial scene: %w", err)
	}
	return requireRows(res)
}

// LoadTourGraph reconstructs the full scene+connection tree for a tour
// owned by the given user, in stored display order.
func (s *DB) LoadTourGraph(ctx context.Context, username string, tourID int64) (_ *tour.Graph, err error) {
	defer observeCall("load_tour_graph")(&err)

	var initial sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT initial_scene_id FROM tours WHERE id = ? AND owner = ?",
		tourID, username).Scan(&initial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: look up tour %d: %w", tourID, err)
	}

	g := tour.NewGraph(tourID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, file_path, view_x, view_y, fov, north
		FROM scenes WHERE tour_id = ? ORDER BY position, id`, tourID)
	if err != nil {
		return nil, fmt.Errorf("store: load scenes: %w", err)
	}
	defer rows.Close()

	var sceneIDs []int64
	scenes := make(map[int64]tour.Scene)
	for rows.Next() {
		var (
			sc                    tour.Scene
			viewX, viewY, fov, nr sql.NullFloat64
		)
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.FilePath, &viewX, &viewY, &fov, &nr); err != nil {
			return nil, fmt.Errorf("store: scan scene: %w", err)
		}
		if viewX.Valid && viewY.Valid {
			sc.InitialView = &tour.Position{X: viewX.Float64, Y: viewY.Float64}
		}
		if fov.Valid {
			f := fov.Float64
			sc.InitialFOV = &f
		}
		if nr.Valid {
			n := nr.Float64
			sc.North = &n
		}
		sceneIDs = append(sceneIDs, sc.ID)
		scenes[sc.ID] = sc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate scenes: %w", err)
	}

	connRows, err := s.db.QueryContext(ctx, `
		SELECT id, scene_id, target_id, pos_x, pos_y, is_transition, name, file_path, icon
		FROM connections WHERE tour_id = ? ORDER BY scene_id, position, id`, tourID)
	if err != nil {
		return nil, fmt.Errorf("store: load connections: %w", err)
	}
	defer connRows.Close()

	for connRows.Next() {
		var (
			c              tour.Connection
			sceneID        int64
			isTransition   int
			name, filePath sql.NullString
		)
		if err := connRows.Scan(&c.ID, &sceneID, &c.TargetID, &c.Position.X, &c.Position.Y,
			&isTransition, &name, &filePath, &c.Icon); err != nil {
			return nil, fmt.Errorf("store: scan connection: %w", err)
		}
		if isTransition == 1 {
			c.Kind = tour.KindTransition
		} else {
			c.Kind = tour.KindCloseup
		}
		c.Name = name.String
		c.FilePath = filePath.String
		sc, ok := scenes[sceneID]
		if !ok {
			// Orphan row; skip rather than fail the whole load.
			continue
		}
		sc.Connections = append(sc.Connections, c)
		scenes[sceneID] = sc
	}
	if err := connRows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate connections: %w", err)
	}

	for _, id := range sceneIDs {
		g.InsertScene(scenes[id])
	}
	if initial.Valid {
		g.SetInitialScene(initial.Int64)
	}
	return g, nil
}

// touchTour bumps the tour's modified timestamp inside a write
// transaction.
func (s *DB) touchTour(ctx context.Context, tx *sql.Tx, tourID int64) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE tours SET modified_at = datetime('now') WHERE id = ?", tourID); err != nil {
		return fmt.Errorf("store: touch tour %d: %w", tourID, err)
	}
	return nil
}

// observeCall times one gateway call; the returned func records the
// outcome when deferred with a pointer to the named error result.
func observeCall(call string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.ObserveStoreCall(call, start, *err)
	}
}

// requireRows maps a zero-row update/delete to ErrNotFound.
func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
