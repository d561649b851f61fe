// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package tour

// Graph is the in-memory scene/connection structure for one tour.
//
// It owns an ordered scene collection (insertion order is display
// order), a nullable initial-scene pointer, and two derived indices:
//
//   - scene index: scene id -> position in the collection
//   - connection index: connection id -> (owning scene id, position
//     within that scene's connection list)
//
// Every structural mutation goes through the methods below so the
// indices can never drift from the collections. No other code touches
// the raw slices. The Graph itself is not goroutine-safe; the session
// registry guarantees single-writer access per tour.
type Graph struct {
	TourID int64

	scenes     []Scene
	sceneIndex map[int64]int
	connIndex  map[int64]connRef
	initial    int64 // 0 = no initial scene
}

// connRef locates a connection: the id of the owning scene and the
// connection's position within that scene's list.
type connRef struct {
	sceneID int64
	pos     int
}

// RemoveSceneResult reports the cascading effects of RemoveScene so
// the caller can persist and announce them.
type RemoveSceneResult struct {
	// ConnectionIDs lists every connection removed by the cascade:
	// those owned by the deleted scene and those elsewhere in the
	// graph that targeted it.
	ConnectionIDs []int64

	// InitialChanged is true when the deleted scene was the initial
	// scene. NewInitialID is the repaired pointer, 0 if the graph is
	// now empty.
	InitialChanged bool
	NewInitialID   int64
}

// NewGraph returns an empty graph for the given tour.
func NewGraph(tourID int64) *Graph {
	return &Graph{
		TourID:     tourID,
		sceneIndex: make(map[int64]int),
		connIndex:  make(map[int64]connRef),
	}
}

// InsertScene appends a scene and indexes it. The scene id must
// already be store-assigned. Any connections carried by the scene
// (when rebuilding from a stored tour) are indexed as well.
//
// Returns true if the scene became the initial scene, which happens
// exactly when it is the first scene in an empty graph; the caller is
// responsible for persisting that pointer.
func (g *Graph) InsertScene(s Scene) bool {
	g.scenes = append(g.scenes, s)
	g.sceneIndex[s.ID] = len(g.scenes) - 1
	for i, c := range s.Connections {
		if c.ID != UnassignedID {
			g.connIndex[c.ID] = connRef{sceneID: s.ID, pos: i}
		}
	}
	if g.initial == 0 && len(g.scenes) == 1 {
		g.initial = s.ID
		return true
	}
	return false
}

// RemoveScene deletes a scene and cascades: every connection owned by
// it and every connection anywhere in the graph targeting it are
// removed in the same operation. The scene index is rebuilt (positions
// shift) and the connection index is re-derived so no entry can point
// at a removed or moved element.
//
// If the deleted scene was the initial scene, the pointer is repaired:
// reassigned to the first remaining scene in display order, or cleared
// when none remain. The caller persists the repaired value.
func (g *Graph) RemoveScene(sceneID int64) (RemoveSceneResult, bool) {
	pos, ok := g.sceneIndex[sceneID]
	if !ok {
		return RemoveSceneResult{}, false
	}

	var res RemoveSceneResult
	for _, c := range g.scenes[pos].Connections {
		if c.ID != UnassignedID {
			res.ConnectionIDs = append(res.ConnectionIDs, c.ID)
		}
	}

	g.scenes = append(g.scenes[:pos], g.scenes[pos+1:]...)

	// Drop dangling transitions in the surviving scenes.
	for i := range g.scenes {
		kept := g.scenes[i].Connections[:0]
		for _, c := range g.scenes[i].Connections {
			if c.Kind == KindTransition && c.TargetID == sceneID {
				if c.ID != UnassignedID {
					res.ConnectionIDs = append(res.ConnectionIDs, c.ID)
				}
				continue
			}
			kept = append(kept, c)
		}
		g.scenes[i].Connections = kept
	}

	g.reindex()

	if g.initial == sceneID {
		res.InitialChanged = true
		if len(g.scenes) > 0 {
			g.initial = g.scenes[0].ID
		} else {
			g.initial = 0
		}
		res.NewInitialID = g.initial
	}
	return res, true
}

// InsertConnection appends a connection to the named scene and indexes
// it. Returns false without mutating anything if the owner scene is
// unknown.
func (g *Graph) InsertConnection(ownerSceneID int64, c Connection) bool {
	pos, ok := g.sceneIndex[ownerSceneID]
	if !ok {
		return false
	}
	g.scenes[pos].Connections = append(g.scenes[pos].Connections, c)
	if c.ID != UnassignedID {
		g.connIndex[c.ID] = connRef{sceneID: ownerSceneID, pos: len(g.scenes[pos].Connections) - 1}
	}
	return true
}

// MutateConnection applies a partial patch to an indexed connection in
// place. Returns false if the id is not indexed.
func (g *Graph) MutateConnection(connID int64, patch ConnectionPatch) bool {
	c := g.connection(connID)
	if c == nil {
		return false
	}
	if patch.TargetID != nil {
		c.TargetID = *patch.TargetID
	}
	if patch.Position != nil {
		c.Position = *patch.Position
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Icon != nil {
		c.Icon = *patch.Icon
	}
	if patch.FilePath != nil {
		c.FilePath = *patch.FilePath
	}
	return true
}

// RemoveConnection deletes a connection from its owning scene's list
// and re-derives that scene's slice of the connection index, since the
// positions after the removed element shift down by one. Returns false
// if the id is not indexed.
func (g *Graph) RemoveConnection(connID int64) bool {
	ref, ok := g.connIndex[connID]
	if !ok {
		return false
	}
	spos := g.sceneIndex[ref.sceneID]
	conns := g.scenes[spos].Connections
	g.scenes[spos].Connections = append(conns[:ref.pos], conns[ref.pos+1:]...)
	delete(g.connIndex, connID)
	g.reindexScene(spos)
	return true
}

// FindScene returns a pointer into the collection, valid until the
// next structural mutation. O(1) via the scene index.
func (g *Graph) FindScene(sceneID int64) (*Scene, bool) {
	pos, ok := g.sceneIndex[sceneID]
	if !ok {
		return nil, false
	}
	return &g.scenes[pos], true
}

// FindConnection returns a copy of the indexed connection along with
// its owning scene id. O(1) via the connection index.
func (g *Graph) FindConnection(connID int64) (Connection, int64, bool) {
	ref, ok := g.connIndex[connID]
	if !ok {
		return Connection{}, 0, false
	}
	spos := g.sceneIndex[ref.sceneID]
	return g.scenes[spos].Connections[ref.pos], ref.sceneID, true
}

// RenameScene sets the display name. Returns false on unknown id.
func (g *Graph) RenameScene(sceneID int64, name string) bool {
	s, ok := g.FindScene(sceneID)
	if !ok {
		return false
	}
	s.Name = name
	return true
}

// SwapSceneAsset replaces only the scene's image asset reference.
func (g *Graph) SwapSceneAsset(sceneID int64, filePath string) bool {
	s, ok := g.FindScene(sceneID)
	if !ok {
		return false
	}
	s.FilePath = filePath
	return true
}

// SetInitialView records the camera starting orientation for a scene.
// fov may be nil to leave the field of view unset.
func (g *Graph) SetInitialView(sceneID int64, pos Position, fov *float64) bool {
	s, ok := g.FindScene(sceneID)
	if !ok {
		return false
	}
	p := pos
	s.InitialView = &p
	if fov != nil {
		f := *fov
		s.InitialFOV = &f
	}
	return true
}

// SetNorthDirection records the compass offset for a scene.
func (g *Graph) SetNorthDirection(sceneID int64, angle float64) bool {
	s, ok := g.FindScene(sceneID)
	if !ok {
		return false
	}
	a := angle
	s.North = &a
	return true
}

// SetInitialScene repoints the tour's initial scene. Returns false if
// the scene id is unknown; the pointer is left unchanged in that case.
func (g *Graph) SetInitialScene(sceneID int64) bool {
	if _, ok := g.sceneIndex[sceneID]; !ok {
		return false
	}
	g.initial = sceneID
	return true
}

// InitialSceneID returns the initial-scene pointer, 0 if unset.
func (g *Graph) InitialSceneID() int64 { return g.initial }

// SceneCount returns the number of scenes in the collection.
func (g *Graph) SceneCount() int { return len(g.scenes) }

// Scenes returns a deep copy of the scene collection in display order,
// for snapshots sent over the wire.
func (g *Graph) Scenes() []Scene {
	out := make([]Scene, len(g.scenes))
	copy(out, g.scenes)
	for i := range out {
		conns := make([]Connection, len(out[i].Connections))
		copy(conns, out[i].Connections)
		out[i].Connections = conns
	}
	return out
}

// connection returns a mutable pointer to an indexed connection.
func (g *Graph) connection(connID int64) *Connection {
	ref, ok := g.connIndex[connID]
	if !ok {
		return nil
	}
	spos := g.sceneIndex[ref.sceneID]
	return &g.scenes[spos].Connections[ref.pos]
}

// reindex rebuilds both indices from scratch after a structural change
// that can shift scene positions.
func (g *Graph) reindex() {
	g.sceneIndex = make(map[int64]int, len(g.scenes))
	g.connIndex = make(map[int64]connRef)
	for i, s := range g.scenes {
		g.sceneIndex[s.ID] = i
		for j, c := range s.Connections {
			if c.ID != UnassignedID {
				g.connIndex[c.ID] = connRef{sceneID: s.ID, pos: j}
			}
		}
	}
}

// reindexScene re-derives the connection index entries for a single
// scene after its connection list changed length.
func (g *Graph) reindexScene(scenePos int) {
	s := g.scenes[scenePos]
	for j, c := range s.Connections {
		if c.ID != UnassignedID {
			g.connIndex[c.ID] = connRef{sceneID: s.ID, pos: j}
		}
	}
}
