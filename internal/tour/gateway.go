// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package tour

import "context"

// Gateway is the persistence boundary for tour data. Every call is
// fallible and all-or-nothing: a returned error means no rows changed.
// The editor treats the store as the source of truth: an in-memory
// mutation is applied only after the matching gateway call succeeds.
type Gateway interface {
	// CreateScene inserts a scene row and returns the assigned id.
	CreateScene(ctx context.Context, tourID int64, name, filePath string) (int64, error)

	// UpdateScene applies the non-nil fields of the patch.
	UpdateScene(ctx context.Context, sceneID int64, patch ScenePatch) error

	// DeleteScene removes the scene row and, on the store side, every
	// connection row owned by it or targeting it.
	DeleteScene(ctx context.Context, sceneID int64) error

	// CreateConnection inserts a connection row owned by the given
	// scene and returns the assigned id.
	CreateConnection(ctx context.Context, tourID, ownerSceneID int64, c Connection) (int64, error)

	// UpdateConnection applies the non-nil fields of the patch.
	UpdateConnection(ctx context.Context, connID int64, patch ConnectionPatch) error

	// DeleteConnection removes a single connection row.
	DeleteConnection(ctx context.Context, connID int64) error

	// CreateAsset stores a non-navigable detail asset (closeup image)
	// and returns its id, used as a closeup connection's target.
	CreateAsset(ctx context.Context, tourID int64, name, filePath string) (int64, error)

	// UpdateAssetPath replaces the stored path of a detail asset.
	UpdateAssetPath(ctx context.Context, assetID int64, filePath string) error

	// SetInitialScene persists the tour's initial-scene pointer.
	SetInitialScene(ctx context.Context, tourID, sceneID int64) error

	// ClearInitialScene nulls the tour's initial-scene pointer.
	ClearInitialScene(ctx context.Context, tourID int64) error

	// LoadTourGraph reconstructs the full scene+connection tree for a
	// tour owned by the given user, in stored display order.
	LoadTourGraph(ctx context.Context, username string, tourID int64) (*Graph, error)
}
