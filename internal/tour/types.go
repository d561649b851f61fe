// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package tour

// Connection kinds. A Transition links to another navigable Scene; a
// Closeup links to a non-navigable detail asset (a flat image the
// viewer can zoom into).
const (
	KindTransition = "Transition"
	KindCloseup    = "Closeup"
)

// UnassignedID is the sentinel connection id used before the store has
// issued a real one. Real ids are always positive, so the uniqueness
// rule for connection ids applies to non-zero values only.
const UnassignedID int64 = 0

// Position is a point on the panorama sphere, interpreted as
// longitude/latitude in degrees.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is a directed link owned by exactly one Scene (the
// source). For a Transition, TargetID is a Scene id; for a Closeup it
// is the id of the detail asset.
type Connection struct {
	ID       int64    `json:"id"`
	Kind     string   `json:"connection_type"`
	TargetID int64    `json:"target_id"`
	Position Position `json:"position"`
	Name     string   `json:"name,omitempty"`
	Icon     int      `json:"icon_index"`
	FilePath string   `json:"file_path,omitempty"`
}

// Scene is a navigable 360° panorama node. Ids are assigned by the
// store on creation, never chosen by the client.
type Scene struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	FilePath    string       `json:"file_path"`
	Connections []Connection `json:"connections"`
	InitialView *Position    `json:"initial_view,omitempty"`
	InitialFOV  *float64     `json:"initial_fov,omitempty"`
	North       *float64     `json:"north_dir,omitempty"`
}

// ConnectionPatch is a partial update applied by MutateConnection.
// Nil fields are left untouched.
type ConnectionPatch struct {
	TargetID *int64
	Position *Position
	Name     *string
	Icon     *int
	FilePath *string
}

// ScenePatch is a partial update to a scene row. Nil fields are left
// untouched.
type ScenePatch struct {
	Name     *string
	FilePath *string
	ViewX    *float64
	ViewY    *float64
	FOV      *float64
	North    *float64
}
