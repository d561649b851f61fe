// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package importer reconstructs a tour from an exported bundle: a
// tourData.js payload plus an assets directory. Export loses the
// original database ids, so every row gets a fresh id and connection
// targets are remapped in a second pass.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/tour"
)

// Store is the slice of the persistence layer the importer writes
// through. Satisfied by *store.DB.
type Store interface {
	tour.Gateway
	CreateTour(ctx context.Context, owner, name string) (int64, error)
}

// rawTourData mirrors the exported tourData.js payload.
type rawTourData struct {
	Name           string     `json:"name"`
	InitialSceneID *int64     `json:"initial_scene_id"`
	Scenes         []rawScene `json:"scenes"`
}

type rawScene struct {
	ID           *int64          `json:"id"`
	Name         string          `json:"name"`
	FilePath     string          `json:"file_path"`
	InitialViewX *float64        `json:"initial_view_x"`
	InitialViewY *float64        `json:"initial_view_y"`
	NorthDir     *float64        `json:"north_dir"`
	InitialFOV   *float64        `json:"initial_fov"`
	Connections  []rawConnection `json:"connections"`
}

type rawConnection struct {
	TargetSceneID  *int64     `json:"target_scene_id"`
	Position       [2]float64 `json:"position"`
	Name           string     `json:"name"`
	FilePath       string     `json:"file_path"`
	ConnectionType string     `json:"connection_type"`
	IconIndex      int        `json:"icon_index"`
}

// Result summarizes a completed import.
type Result struct {
	TourID          int64
	SceneCount      int
	ConnectionCount int
	CloseupCount    int
}

// Importer copies export bundles into the store and the assets dir.
type Importer struct {
	store     Store
	assetsDir string
}

// New creates an importer writing assets under assetsDir.
func New(store Store, assetsDir string) *Importer {
	return &Importer{store: store, assetsDir: assetsDir}
}

// ImportBundle imports the export at exportDir as a new tour owned by
// owner. The bundle's tourData.js may live at the root or under js/.
func (imp *Importer) ImportBundle(ctx context.Context, owner, exportDir string) (*Result, error) {
	payload, err := readTourData(exportDir)
	if err != nil {
		return nil, err
	}

	raw, err := parseTourData(payload)
	if err != nil {
		return nil, err
	}
	if raw.Name == "" {
		return nil, errors.New("bundle has no tour name")
	}

	tourID, err := imp.store.CreateTour(ctx, owner, raw.Name)
	if err != nil {
		return nil, fmt.Errorf("create tour: %w", err)
	}

	// First pass: scenes. Old ids map to new ids; scenes without an
	// exported id are matched by name when remapping targets.
	idMap := make(map[int64]int64, len(raw.Scenes))
	nameMap := make(map[string]int64, len(raw.Scenes))
	for _, rs := range raw.Scenes {
		filePath, err := imp.copyAsset(exportDir, rs.FilePath)
		if err != nil {
			return nil, err
		}

		sceneID, err := imp.store.CreateScene(ctx, tourID, rs.Name, filePath)
		if err != nil {
			return nil, fmt.Errorf("import scene %q: %w", rs.Name, err)
		}
		if patch := scenePatch(rs); patch != (tour.ScenePatch{}) {
			if err := imp.store.UpdateScene(ctx, sceneID, patch); err != nil {
				return nil, fmt.Errorf("import scene %q view: %w", rs.Name, err)
			}
		}

		if rs.ID != nil {
			idMap[*rs.ID] = sceneID
		}
		nameMap[rs.Name] = sceneID
	}

	// Second pass: connections, with targets remapped to new ids.
	res := &Result{TourID: tourID, SceneCount: len(raw.Scenes)}
	for _, rs := range raw.Scenes {
		ownerID, ok := newSceneID(rs, idMap, nameMap)
		if !ok {
			continue
		}
		for _, rc := range rs.Connections {
			filePath, err := imp.copyAsset(exportDir, rc.FilePath)
			if err != nil {
				return nil, err
			}

			conn := tour.Connection{
				Kind:     tour.KindCloseup,
				Position: tour.Position{X: rc.Position[0], Y: rc.Position[1]},
				Name:     rc.Name,
				Icon:     rc.IconIndex,
				FilePath: filePath,
			}
			if rc.ConnectionType == tour.KindTransition {
				conn.Kind = tour.KindTransition
				if rc.TargetSceneID != nil {
					if mapped, ok := idMap[*rc.TargetSceneID]; ok {
						conn.TargetID = mapped
					}
				}
			} else {
				// Closeups point at an asset row, same as the live
				// editor path, so later asset-path edits resolve.
				assetID, err := imp.store.CreateAsset(ctx, tourID, rc.Name, filePath)
				if err != nil {
					return nil, fmt.Errorf("import closeup asset in %q: %w", rs.Name, err)
				}
				conn.TargetID = assetID
			}

			if _, err := imp.store.CreateConnection(ctx, tourID, ownerID, conn); err != nil {
				return nil, fmt.Errorf("import connection in %q: %w", rs.Name, err)
			}
			res.ConnectionCount++
			if conn.Kind == tour.KindCloseup {
				res.CloseupCount++
			}
		}
	}

	if raw.InitialSceneID != nil {
		if mapped, ok := idMap[*raw.InitialSceneID]; ok {
			if err := imp.store.SetInitialScene(ctx, tourID, mapped); err != nil {
				return nil, fmt.Errorf("set initial scene: %w", err)
			}
		}
	}

	logging.Info().Str("owner", owner).Int64("tour_id", tourID).
		Int("scenes", res.SceneCount).Int("connections", res.ConnectionCount).
		Msg("tour imported")
	return res, nil
}

func scenePatch(rs rawScene) tour.ScenePatch {
	return tour.ScenePatch{
		ViewX: rs.InitialViewX,
		ViewY: rs.InitialViewY,
		FOV:   rs.InitialFOV,
		North: rs.NorthDir,
	}
}

func newSceneID(rs rawScene, idMap map[int64]int64, nameMap map[string]int64) (int64, bool) {
	if rs.ID != nil {
		if id, ok := idMap[*rs.ID]; ok {
			return id, true
		}
	}
	id, ok := nameMap[rs.Name]
	return id, ok
}

// readTourData finds the payload file, checking js/tourData.js first
// to match the sample export layout.
func readTourData(exportDir string) ([]byte, error) {
	for _, p := range []string{
		filepath.Join(exportDir, "js", "tourData.js"),
		filepath.Join(exportDir, "tourData.js"),
	} {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
	}
	return nil, errors.New("tourData.js not found in bundle root or js/")
}

// parseTourData strips the javascript assignment wrapper and decodes
// the object literal as JSON.
func parseTourData(payload []byte) (*rawTourData, error) {
	s := string(payload)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, errors.New("tourData.js contains no object literal")
	}

	var raw rawTourData
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse tourData.js: %w", err)
	}
	return &raw, nil
}

// copyAsset copies a referenced asset into the assets dir under a
// fresh uuid name and returns the new relative path. A missing source
// file is logged and the original path kept, matching how exports
// sometimes reference assets that were pruned.
func (imp *Importer) copyAsset(exportDir, relPath string) (string, error) {
	if relPath == "" {
		return "", nil
	}

	src := filepath.Join(exportDir, strings.TrimPrefix(relPath, "/"))
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		logging.Warn().Str("path", relPath).Msg("asset referenced but missing in export")
		return relPath, nil
	}
	if err != nil {
		return "", fmt.Errorf("open asset %s: %w", relPath, err)
	}
	defer in.Close()

	name := uuid.NewString() + filepath.Ext(relPath)
	if err := os.MkdirAll(imp.assetsDir, 0o750); err != nil {
		return "", fmt.Errorf("create assets dir: %w", err)
	}

	dst := filepath.Join(imp.assetsDir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create asset %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copy asset %s: %w", relPath, err)
	}
	return filepath.Join("assets", name), nil
}
