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
	"time"
)

// TourInfo is one row of tour metadata, as listed to the owner.
type TourInfo struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Location       string    `json:"location,omitempty"`
	InitialSceneID int64     `json:"initial_scene_id,omitempty"`
	HasFloorplan   bool      `json:"has_floorplan"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// CreateTour inserts a tour row for the owner and returns its id.
func (s *DB) CreateTour(ctx context.Context, owner, name string) (int64, error) {
	stmt, err := s.prepare(ctx, "INSERT INTO tours (owner, name) VALUES (?, ?)")
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, owner, name)
	if err != nil {
		return 0, fmt.Errorf("store: insert tour: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: tour id: %w", err)
	}
	return id, nil
}

// ListTours returns the owner's tours, most recently modified first.
func (s *DB) ListTours(ctx context.Context, owner string) ([]TourInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, initial_scene_id, has_floorplan, created_at, modified_at
		FROM tours WHERE owner = ? ORDER BY modified_at DESC, id DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("store: list tours: %w", err)
	}
	defer rows.Close()

	var tours []TourInfo
	for rows.Next() {
		var (
			t                    TourInfo
			initial              sql.NullInt64
			hasFloorplan         int
			createdAt, modifiedAt string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Location, &initial, &hasFloorplan, &createdAt, &modifiedAt); err != nil {
			return nil, fmt.Errorf("store: scan tour: %w", err)
		}
		t.InitialSceneID = initial.Int64
		t.HasFloorplan = hasFloorplan == 1
		t.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
		t.ModifiedAt, _ = time.Parse(sqliteTimeLayout, modifiedAt)
		tours = append(tours, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate tours: %w", err)
	}
	return tours, nil
}

// TourOwnedBy reports whether the tour exists and belongs to the user.
func (s *DB) TourOwnedBy(ctx context.Context, owner string, tourID int64) (bool, error) {
	stmt, err := s.prepare(ctx, "SELECT 1 FROM tours WHERE id = ? AND owner = ?")
	if err != nil {
		return false, err
	}
	var one int
	err = stmt.QueryRowContext(ctx, tourID, owner).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: look up tour owner: %w", err)
	}
	return true, nil
}

// DeleteTour removes the tour and, through the schema's cascade rules,
// its scenes, connections, and assets. Fails with ErrNotFound when the
// tour does not exist or is not owned by the user.
func (s *DB) DeleteTour(ctx context.Context, owner string, tourID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tours WHERE id = ? AND owner = ?", tourID, owner)
	if err != nil {
		return fmt.Errorf("store: delete tour %d: %w", tourID, err)
	}
	return requireRows(res)
}
